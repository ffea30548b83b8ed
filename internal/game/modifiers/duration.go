package modifiers

import (
	"context"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// DurationPriority runs expiry after ordinary listeners of the same event.
const DurationPriority = -100

// EventFilter narrows which occurrences of an event a mixin reacts to.
type EventFilter func(env *Env, holder Target, event rules.Event) bool

// DurationMixin counts occurrences of Event and force-removes its modifier
// once Turns occurrences have been seen. Reapplication restarts the count.
type DurationMixin struct {
	Event    rules.EventType
	Turns    int
	Filter   EventFilter
	Priority int

	remaining int
	handle    rules.Handle
}

func (d *DurationMixin) Kind() Kind { return KindDuration }

// Remaining returns the number of occurrences left before expiry.
func (d *DurationMixin) Remaining() int {
	return d.remaining
}

func (d *DurationMixin) OnApplied(_ context.Context, env *Env, target Target, mod *Modifier) error {
	if env == nil || env.Bus == nil {
		return ErrNoBus
	}
	d.remaining = max(1, d.Turns)
	d.handle = env.Bus.SubscribeTyped(d.Event, d.Priority, func(ctx context.Context, event rules.Event) error {
		if d.Filter != nil && !d.Filter(env, target, event) {
			return nil
		}
		d.remaining--
		if d.remaining > 0 {
			return nil
		}
		_, err := target.Modifiers().Remove(ctx, mod.ID, Force())
		return err
	})
	return nil
}

func (d *DurationMixin) OnRemoved(_ context.Context, env *Env, _ Target, _ *Modifier) error {
	if d.handle != 0 {
		env.Bus.Unsubscribe(d.handle)
		d.handle = 0
	}
	return nil
}

func (d *DurationMixin) OnReapplied(context.Context, *Env, *Modifier) error {
	d.remaining = max(1, d.Turns)
	return nil
}
