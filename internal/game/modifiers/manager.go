package modifiers

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// Metadata keys set on modifier lifecycle events.
const (
	MetaModifierID   = "modifier_id"
	MetaModifierType = "modifier_type"
	MetaStacks       = "stacks"
)

// Manager owns the modifiers applied to a single target.
//
// Mutation is serialized by the scheduler, so Manager does no locking.
type Manager struct {
	env     *Env
	target  Target
	applied []*Modifier
}

// NewManager constructs the modifier registry for target.
func NewManager(env *Env, target Target) *Manager {
	return &Manager{env: env, target: target}
}

// RemoveOption adjusts a Remove call.
type RemoveOption func(*removeOptions)

type removeOptions struct {
	force bool
}

// Force removes the modifier even when it is not removable.
func Force() RemoveOption {
	return func(o *removeOptions) {
		o.force = true
	}
}

// Add applies mod to the target. When a modifier of the same type is
// already applied, that instance gains a stack, every mixin's OnReapplied
// runs, and the existing instance is returned instead of mod.
func (m *Manager) Add(ctx context.Context, mod *Modifier) (*Modifier, error) {
	if mod == nil {
		return nil, fmt.Errorf("add modifier: nil modifier")
	}
	switch mod.state {
	case StateRemoved:
		return nil, fmt.Errorf("add modifier %s: %w", mod.Type, ErrModifierRemoved)
	case StateApplied:
		return nil, fmt.Errorf("add modifier %s to %s: %w", mod.Type, m.target.ID(), ErrModifierApplied)
	}

	if existing := m.byType(mod.Type); existing != nil {
		return existing, m.reapply(ctx, existing)
	}

	if mod.ID == "" {
		mod.ID = m.env.nextID(mod.Type)
	}
	mod.targetID = m.target.ID()
	mod.Stacks = 1

	for i, mixin := range mod.Mixins {
		if err := mixin.OnApplied(ctx, m.env, m.target, mod); err != nil {
			var unwindErr error
			for j := i - 1; j >= 0; j-- {
				unwindErr = multierr.Append(unwindErr, mod.Mixins[j].OnRemoved(ctx, m.env, m.target, mod))
			}
			if unwindErr != nil {
				m.env.logger().Error("failed to unwind partially applied modifier",
					zap.String("modifier_type", mod.Type),
					zap.String("target_id", mod.targetID),
					zap.Error(unwindErr),
				)
			}
			mod.Stacks = 0
			mod.targetID = ""
			return nil, fmt.Errorf("apply %s mixin %d (%s) to %s: %w", mod.Type, i, mixin.Kind(), m.target.ID(), err)
		}
	}

	mod.state = StateApplied
	m.applied = append(m.applied, mod)

	m.env.logger().Debug("modifier applied",
		zap.String("modifier_id", mod.ID),
		zap.String("modifier_type", mod.Type),
		zap.String("target_id", mod.targetID),
	)
	return mod, m.env.publish(ctx, m.lifecycleEvent(rules.EventModifierApplied, mod))
}

func (m *Manager) reapply(ctx context.Context, mod *Modifier) error {
	// mixins see the new count while reapplying
	mod.Stacks++
	for _, mixin := range mod.Mixins {
		if err := mixin.OnReapplied(ctx, m.env, mod); err != nil {
			mod.Stacks--
			return fmt.Errorf("reapply %s (%s) on %s: %w", mod.Type, mixin.Kind(), m.target.ID(), err)
		}
	}
	m.env.logger().Debug("modifier stacked",
		zap.String("modifier_id", mod.ID),
		zap.String("modifier_type", mod.Type),
		zap.Int("stacks", mod.Stacks),
	)
	return m.env.publish(ctx, m.lifecycleEvent(rules.EventModifierStacked, mod))
}

// Remove removes the modifier whose id or type equals key. It reports
// false without error when nothing matched or when the modifier is not
// removable and Force was not given.
func (m *Manager) Remove(ctx context.Context, key string, opts ...RemoveOption) (bool, error) {
	var o removeOptions
	for _, opt := range opts {
		opt(&o)
	}

	mod := m.find(key)
	if mod == nil {
		return false, nil
	}
	if !mod.Removable && !o.force {
		return false, nil
	}
	return true, m.remove(ctx, mod)
}

// remove unlinks mod before running OnRemoved so a listener firing during
// teardown cannot remove it twice.
func (m *Manager) remove(ctx context.Context, mod *Modifier) error {
	for i, applied := range m.applied {
		if applied == mod {
			m.applied = append(m.applied[:i:i], m.applied[i+1:]...)
			break
		}
	}
	mod.state = StateRemoved

	var err error
	for i := len(mod.Mixins) - 1; i >= 0; i-- {
		err = multierr.Append(err, mod.Mixins[i].OnRemoved(ctx, m.env, m.target, mod))
	}
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", mod.Type, m.target.ID(), err)
	}

	m.env.logger().Debug("modifier removed",
		zap.String("modifier_id", mod.ID),
		zap.String("modifier_type", mod.Type),
		zap.String("target_id", mod.targetID),
	)
	return m.env.publish(ctx, m.lifecycleEvent(rules.EventModifierRemoved, mod))
}

// Teardown force-removes every applied modifier, newest first. Call it
// before the target leaves play.
func (m *Manager) Teardown(ctx context.Context) error {
	var err error
	for len(m.applied) > 0 {
		mod := m.applied[len(m.applied)-1]
		err = multierr.Append(err, m.remove(ctx, mod))
	}
	return err
}

// Has reports whether a modifier with the given id or type is applied.
func (m *Manager) Has(key string) bool {
	return m.find(key) != nil
}

// Get returns the applied modifier with the given id or type.
func (m *Manager) Get(key string) (*Modifier, bool) {
	mod := m.find(key)
	return mod, mod != nil
}

// List returns the applied modifiers in application order.
func (m *Manager) List() []*Modifier {
	out := make([]*Modifier, len(m.applied))
	copy(out, m.applied)
	return out
}

// Len returns the number of applied modifiers.
func (m *Manager) Len() int {
	return len(m.applied)
}

func (m *Manager) find(key string) *Modifier {
	for _, mod := range m.applied {
		if mod.ID == key {
			return mod
		}
	}
	return m.byType(key)
}

func (m *Manager) byType(modifierType string) *Modifier {
	for _, mod := range m.applied {
		if mod.Type == modifierType {
			return mod
		}
	}
	return nil
}

func (m *Manager) lifecycleEvent(eventType rules.EventType, mod *Modifier) rules.Event {
	evt := rules.NewEvent(eventType, m.target.ID(), mod.SourceID, "")
	evt.Metadata[MetaModifierID] = mod.ID
	evt.Metadata[MetaModifierType] = mod.Type
	evt.Metadata[MetaStacks] = fmt.Sprint(mod.Stacks)
	return evt
}
