package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// SerializeHistory encodes the recorded history as a JSON array of actions.
func (s *Scheduler) SerializeHistory() ([]byte, error) {
	history := s.History()
	if history == nil {
		history = []Action{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("serialize history: %w", err)
	}
	return data, nil
}

// ParseHistory decodes a history produced by SerializeHistory.
func ParseHistory(data []byte) ([]Action, error) {
	var history []Action
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return history, nil
}

// ApplyHistory re-dispatches every action in order. It is meant for a
// freshly constructed game with the same seed as the recorded one. Rule
// violations are part of the recorded game and are tolerated; a fatal
// error stops the replay.
func (s *Scheduler) ApplyHistory(ctx context.Context, history []Action) error {
	violations := 0
	for i, action := range history {
		err := s.Dispatch(ctx, action)
		if err == nil {
			continue
		}
		if rules.IsRuleViolation(err) && !IsFatal(err) {
			violations++
			continue
		}
		return fmt.Errorf("replay action %d (%s): %w", i, action.Type, err)
	}
	if err := s.Wait(ctx); err != nil && (!rules.IsRuleViolation(err) || IsFatal(err)) {
		return fmt.Errorf("replay drain: %w", err)
	}
	s.logger.Info("history applied",
		zap.Int("actions", len(history)),
		zap.Int("rule_violations", violations),
	)
	return nil
}
