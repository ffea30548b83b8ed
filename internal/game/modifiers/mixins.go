package modifiers

import (
	"context"
	"fmt"

	"github.com/magefree/tactics-server-go/internal/game/effects"
)

// Kind enumerates the closed set of mixin variants.
type Kind int

const (
	KindStat Kind = 1 + iota
	KindFlag
	KindDuration
	KindTogglable
	KindAura
	KindGameEvent
)

var kindNames = map[Kind]string{
	KindStat:      "stat",
	KindFlag:      "flag",
	KindDuration:  "duration",
	KindTogglable: "togglable",
	KindAura:      "aura",
	KindGameEvent: "game_event",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a catalog name into a Kind.
func ParseKind(name string) (Kind, error) {
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown mixin kind %q", name)
}

// Mixin is one composable behaviour owned by a modifier. OnRemoved must
// undo every registration OnApplied made.
type Mixin interface {
	Kind() Kind
	OnApplied(ctx context.Context, env *Env, target Target, mod *Modifier) error
	OnRemoved(ctx context.Context, env *Env, target Target, mod *Modifier) error
	OnReapplied(ctx context.Context, env *Env, mod *Modifier) error
}

// Gate reports whether a gated interceptor is currently active.
type Gate func(ec effects.EvalContext) bool

// Gateable is an interceptor mixin whose transform can be switched off.
// While the gate is closed the transform returns its input unchanged.
type Gateable interface {
	Mixin
	SetGate(gate Gate)
}

// StatOp is the arithmetic a StatMixin performs.
type StatOp int

const (
	OpAdd StatOp = 1 + iota
	OpMul
	OpSet
)

// ParseStatOp converts a catalog name into a StatOp.
func ParseStatOp(name string) (StatOp, error) {
	switch name {
	case "add":
		return OpAdd, nil
	case "mul":
		return OpMul, nil
	case "set":
		return OpSet, nil
	default:
		return 0, fmt.Errorf("unknown stat op %q", name)
	}
}

// StatMixin registers one interceptor on an int slot. With PerStack the
// amount is multiplied by the modifier's stack count at read time.
type StatMixin struct {
	Slot     string
	Op       StatOp
	Amount   int
	PerStack bool
	Priority int

	gate   Gate
	slot   *IntSlot
	handle effects.Handle
}

func (s *StatMixin) Kind() Kind { return KindStat }

// SetGate implements Gateable.
func (s *StatMixin) SetGate(gate Gate) { s.gate = gate }

func (s *StatMixin) OnApplied(_ context.Context, _ *Env, target Target, mod *Modifier) error {
	slot := target.IntSlot(s.Slot)
	if slot == nil {
		return fmt.Errorf("%w: %s on %s", ErrUnknownSlot, s.Slot, target.ID())
	}
	s.slot = slot
	s.handle = slot.Add(func(v int, ec effects.EvalContext) int {
		if s.gate != nil && !s.gate(ec) {
			return v
		}
		amount := s.Amount
		if s.PerStack {
			amount *= mod.Stacks
		}
		switch s.Op {
		case OpMul:
			return v * amount
		case OpSet:
			return amount
		default:
			return v + amount
		}
	}, s.Priority)
	return nil
}

func (s *StatMixin) OnRemoved(context.Context, *Env, Target, *Modifier) error {
	if s.slot != nil {
		s.slot.Remove(s.handle)
		s.slot = nil
	}
	return nil
}

func (s *StatMixin) OnReapplied(context.Context, *Env, *Modifier) error { return nil }

// FlagMixin forces a bool slot to Value.
type FlagMixin struct {
	Slot     string
	Value    bool
	Priority int

	gate   Gate
	slot   *BoolSlot
	handle effects.Handle
}

func (f *FlagMixin) Kind() Kind { return KindFlag }

// SetGate implements Gateable.
func (f *FlagMixin) SetGate(gate Gate) { f.gate = gate }

func (f *FlagMixin) OnApplied(_ context.Context, _ *Env, target Target, _ *Modifier) error {
	slot := target.BoolSlot(f.Slot)
	if slot == nil {
		return fmt.Errorf("%w: %s on %s", ErrUnknownSlot, f.Slot, target.ID())
	}
	f.slot = slot
	f.handle = slot.Add(func(v bool, ec effects.EvalContext) bool {
		if f.gate != nil && !f.gate(ec) {
			return v
		}
		return f.Value
	}, f.Priority)
	return nil
}

func (f *FlagMixin) OnRemoved(context.Context, *Env, Target, *Modifier) error {
	if f.slot != nil {
		f.slot.Remove(f.handle)
		f.slot = nil
	}
	return nil
}

func (f *FlagMixin) OnReapplied(context.Context, *Env, *Modifier) error { return nil }

// Predicate decides whether a togglable mixin is active for target.
type Predicate func(env *Env, target Target, ec effects.EvalContext) bool

// TogglableMixin keeps Inner registered for the modifier's whole lifetime
// and gates it with Predicate, so a deactivated interceptor still holds
// its place in the slot order.
type TogglableMixin struct {
	Inner     Gateable
	Predicate Predicate
}

func (t *TogglableMixin) Kind() Kind { return KindTogglable }

func (t *TogglableMixin) OnApplied(ctx context.Context, env *Env, target Target, mod *Modifier) error {
	t.Inner.SetGate(func(ec effects.EvalContext) bool {
		return t.Predicate(env, target, ec)
	})
	return t.Inner.OnApplied(ctx, env, target, mod)
}

func (t *TogglableMixin) OnRemoved(ctx context.Context, env *Env, target Target, mod *Modifier) error {
	err := t.Inner.OnRemoved(ctx, env, target, mod)
	t.Inner.SetGate(nil)
	return err
}

func (t *TogglableMixin) OnReapplied(ctx context.Context, env *Env, mod *Modifier) error {
	return t.Inner.OnReapplied(ctx, env, mod)
}
