package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// Built-in action types answering a pending choice. They are recorded in
// history like any other action so replay resolves pauses the same way.
const (
	ActionChoiceResolve = "choice.resolve"
	ActionChoiceCancel  = "choice.cancel"
)

var (
	// ErrHalted is returned by Dispatch after a fatal error until Reset is called.
	ErrHalted = errors.New("scheduler halted after fatal error")
	// ErrNotRunning is returned when a follow-up or pause is requested outside a running action.
	ErrNotRunning = errors.New("no action is running")
	// ErrNotPaused is returned by Resolve and Cancel when no choice is pending.
	ErrNotPaused = errors.New("no choice is pending")
	// ErrCancelled is returned by Choice.Decode for a cancelled choice.
	ErrCancelled = errors.New("choice cancelled")
	// ErrResync is the only description of a fatal error players ever see.
	ErrResync = errors.New("game state out of sync; resync required")
)

// Action is one unit of work submitted to the scheduler. Its serialized
// form is {"type": ..., "payload": ...}.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewAction builds an action, marshalling payload as JSON. A nil payload
// produces an action without one.
func NewAction(actionType string, payload any) (Action, error) {
	if payload == nil {
		return Action{Type: actionType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Action{}, fmt.Errorf("marshal %s payload: %w", actionType, err)
	}
	return Action{Type: actionType, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (a Action) Decode(v any) error {
	if len(a.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", a.Type)
	}
	if err := json.Unmarshal(a.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", a.Type, err)
	}
	return nil
}

// ChoiceKind names the external decision a paused action awaits.
type ChoiceKind string

// AnyChoice marks a definition that answers every kind of pending choice.
const AnyChoice ChoiceKind = "*"

// Choice is the value a paused action resumes with.
type Choice struct {
	Kind      ChoiceKind
	Payload   json.RawMessage
	Cancelled bool
}

// Decode unmarshals the choice payload into v. It returns ErrCancelled
// for the cancelled variant.
func (c Choice) Decode(v any) error {
	if c.Cancelled {
		return ErrCancelled
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("%s choice: empty payload", c.Kind)
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("%s choice: %w", c.Kind, err)
	}
	return nil
}

// Handler executes one action. It must be a pure function of the current
// game state and the payload.
type Handler func(ctx context.Context, exec *Execution, payload json.RawMessage) error

// Definition registers an action type with the scheduler.
//
// A definition with Responds set answers a pending choice of that kind:
// dispatched while the scheduler is paused on it, its payload resumes the
// paused action instead of being queued. Cancels turns that answer into
// the cancelled variant.
type Definition struct {
	Type     string
	Handler  Handler
	Responds ChoiceKind
	Cancels  bool
}

func (d Definition) answers(kind ChoiceKind) bool {
	return d.Responds != "" && (d.Responds == AnyChoice || d.Responds == kind)
}

// FatalError reports an action that failed with anything other than a
// rule violation. The game state can no longer be trusted.
type FatalError struct {
	Action Action
	Err    error
	Panic  any
}

func (e *FatalError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("fatal: %s panicked: %v", e.Action.Type, e.Panic)
	}
	return fmt.Sprintf("fatal: %s: %v", e.Action.Type, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// StepsExceededError reports a flush that ran more actions than allowed,
// usually a trigger chain that re-enqueues itself.
type StepsExceededError struct {
	Steps int
	Limit int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flush exceeded %d steps (ran %d)", e.Limit, e.Steps)
}

// IsStepsExceeded reports whether err wraps a StepsExceededError.
func IsStepsExceeded(err error) bool {
	var steps *StepsExceededError
	return errors.As(err, &steps)
}

// PlayerError converts an error returned by the scheduler into what may be
// shown to a player: rule violations keep their reason, everything else
// becomes ErrResync.
func PlayerError(err error) error {
	if err == nil {
		return nil
	}
	if rules.IsRuleViolation(err) && !IsFatal(err) {
		return err
	}
	return ErrResync
}
