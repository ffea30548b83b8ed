package modifiers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/effects"
	"github.com/magefree/tactics-server-go/internal/game/rules"
)

var (
	// ErrModifierRemoved is returned when a removed instance is added again.
	ErrModifierRemoved = errors.New("modifier already removed")
	// ErrModifierApplied is returned when an instance applied to one target is added to another.
	ErrModifierApplied = errors.New("modifier already applied")
	// ErrUnknownSlot is returned when a mixin targets a slot the entity does not declare.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrNoBus is returned when an event-driven mixin is applied without an event bus.
	ErrNoBus = errors.New("event bus not configured")
)

// IntSlot and BoolSlot are the pipelines entities expose for modifiable attributes.
type (
	IntSlot  = effects.Interceptable[int, effects.EvalContext]
	BoolSlot = effects.Interceptable[bool, effects.EvalContext]
)

// Target is an entity that can carry modifiers. Slot lookups return nil
// when the entity does not declare the slot.
type Target interface {
	ID() string
	IntSlot(name string) *IntSlot
	BoolSlot(name string) *BoolSlot
	Modifiers() *Manager
}

// World is the narrow view of the game arena mixins may query.
// Targets must return entities in a stable order.
type World interface {
	Target(id string) (Target, bool)
	Targets() []Target
}

// IDSource issues modifier instance identifiers.
type IDSource interface {
	NextID(modifierType string) string
}

// IDFunc adapts a function to IDSource.
type IDFunc func(modifierType string) string

// NextID implements IDSource.
func (f IDFunc) NextID(modifierType string) string {
	return f(modifierType)
}

// Env carries the capabilities modifiers and mixins need. It replaces any
// ambient reference to the owning game.
type Env struct {
	Bus    *rules.EventBus
	World  World
	Logger *zap.Logger
	IDs    IDSource
}

func (env *Env) nextID(modifierType string) string {
	if env != nil && env.IDs != nil {
		if id := env.IDs.NextID(modifierType); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func (env *Env) logger() *zap.Logger {
	if env == nil || env.Logger == nil {
		return zap.NewNop()
	}
	return env.Logger
}

func (env *Env) publish(ctx context.Context, event rules.Event) error {
	if env == nil || env.Bus == nil {
		return nil
	}
	return env.Bus.Publish(ctx, event)
}

// State is the lifecycle state of a modifier instance.
type State int

const (
	StateUnapplied State = iota
	StateApplied
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateUnapplied:
		return "unapplied"
	case StateApplied:
		return "applied"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Modifier is a stackable bundle of mixins applied to exactly one target.
// Type is the de-duplication key on that target. Mixins hold per-instance
// state and must not be shared between modifiers.
type Modifier struct {
	ID        string
	Type      string
	SourceID  string
	Stacks    int
	Removable bool
	Mixins    []Mixin

	state    State
	targetID string
}

// New constructs an unapplied, removable modifier.
func New(modifierType, sourceID string, mixins ...Mixin) *Modifier {
	return &Modifier{
		Type:      modifierType,
		SourceID:  sourceID,
		Removable: true,
		Mixins:    mixins,
	}
}

// State returns the lifecycle state.
func (m *Modifier) State() State {
	return m.state
}

// TargetID returns the id of the entity the modifier is applied to.
func (m *Modifier) TargetID() string {
	return m.targetID
}

// Serialize renders the modifier for snapshots.
func (m *Modifier) Serialize() map[string]any {
	out := map[string]any{
		"id":        m.ID,
		"type":      m.Type,
		"stacks":    m.Stacks,
		"removable": m.Removable,
	}
	if m.SourceID != "" {
		out["source_id"] = m.SourceID
	}
	for _, mixin := range m.Mixins {
		if d, ok := mixin.(*DurationMixin); ok {
			out["remaining"] = d.Remaining()
		}
	}
	return out
}
