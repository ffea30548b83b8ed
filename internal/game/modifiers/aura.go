package modifiers

import (
	"context"
	"slices"

	"go.uber.org/multierr"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// Eligibility decides whether candidate should currently receive an aura
// held by holder. The holder itself is never a candidate.
type Eligibility func(env *Env, holder Target, candidate Target) bool

// AuraMixin keeps a nested modifier on every other entity that is eligible.
// Each of Events triggers a recompute of the eligible set; entities that
// became eligible receive a fresh nested modifier and entities that stopped
// being eligible lose it. The nested type is keyed by the holder so two
// holders of the same aura never merge into one stack.
type AuraMixin struct {
	Events     []rules.EventType
	Eligible   Eligibility
	NestedType string
	Nested     func() []Mixin
	Priority   int

	holder      Target
	key         string
	affected    []string
	handles     []rules.Handle
	recomputing bool
}

func (a *AuraMixin) Kind() Kind { return KindAura }

// NestedKey returns the modifier type the aura applies on behalf of holderID.
func (a *AuraMixin) NestedKey(holderID string) string {
	return a.NestedType + ":" + holderID
}

// Affected returns the ids currently carrying the nested modifier.
func (a *AuraMixin) Affected() []string {
	return slices.Clone(a.affected)
}

func (a *AuraMixin) OnApplied(ctx context.Context, env *Env, target Target, mod *Modifier) error {
	if env == nil || env.Bus == nil {
		return ErrNoBus
	}
	a.holder = target
	a.key = a.NestedKey(target.ID())
	for _, eventType := range a.Events {
		a.handles = append(a.handles, env.Bus.SubscribeTyped(eventType, a.Priority, func(ctx context.Context, _ rules.Event) error {
			return a.recompute(ctx, env)
		}))
	}
	if err := a.recompute(ctx, env); err != nil {
		// the manager only unwinds mixins that finished applying
		return multierr.Append(err, a.OnRemoved(ctx, env, target, mod))
	}
	return nil
}

func (a *AuraMixin) OnRemoved(ctx context.Context, env *Env, _ Target, _ *Modifier) error {
	for _, h := range a.handles {
		env.Bus.Unsubscribe(h)
	}
	a.handles = nil

	var err error
	for _, id := range a.affected {
		if t, ok := env.World.Target(id); ok {
			_, removeErr := t.Modifiers().Remove(ctx, a.key, Force())
			err = multierr.Append(err, removeErr)
		}
	}
	a.affected = nil
	return err
}

func (a *AuraMixin) OnReapplied(ctx context.Context, env *Env, _ *Modifier) error {
	return a.recompute(ctx, env)
}

func (a *AuraMixin) recompute(ctx context.Context, env *Env) error {
	if a.recomputing {
		return nil
	}
	a.recomputing = true
	defer func() { a.recomputing = false }()

	var want []string
	for _, candidate := range env.World.Targets() {
		if candidate.ID() == a.holder.ID() {
			continue
		}
		if a.Eligible(env, a.holder, candidate) {
			want = append(want, candidate.ID())
		}
	}

	// affected tracks what is actually applied, even when a step fails
	kept := make([]string, 0, len(a.affected))
	for i, id := range a.affected {
		if slices.Contains(want, id) {
			kept = append(kept, id)
			continue
		}
		t, ok := env.World.Target(id)
		if !ok {
			continue
		}
		if _, err := t.Modifiers().Remove(ctx, a.key, Force()); err != nil {
			a.affected = append(kept, a.affected[i:]...)
			return err
		}
	}
	a.affected = kept

	// applying is idempotent: an eligible entity that lost the nested
	// modifier some other way gets it back
	for _, id := range want {
		t, ok := env.World.Target(id)
		if !ok {
			continue
		}
		if !t.Modifiers().Has(a.key) {
			var mixins []Mixin
			if a.Nested != nil {
				mixins = a.Nested()
			}
			nested := New(a.key, a.holder.ID(), mixins...)
			if _, err := t.Modifiers().Add(ctx, nested); err != nil {
				return err
			}
		}
		if !slices.Contains(a.affected, id) {
			a.affected = append(a.affected, id)
		}
	}
	return nil
}
