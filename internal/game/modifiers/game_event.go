package modifiers

import (
	"context"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// turnResetPriority makes limit counters reset before any trigger of the
// same turn boundary event can fire.
const turnResetPriority = 1 << 20

// EventEffect is the body of a game-event trigger.
type EventEffect func(ctx context.Context, env *Env, holder Target, mod *Modifier, event rules.Event, amount int) error

// GameEventMixin runs Effect whenever Event is published and Filter
// accepts it. PerPlayerTurn and PerGameTurn cap the number of triggers
// between the respective turn boundary events; zero means unlimited.
type GameEventMixin struct {
	Event         rules.EventType
	Priority      int
	Filter        EventFilter
	Effect        EventEffect
	Amount        int
	PerPlayerTurn int
	PerGameTurn   int

	playerTurnCount int
	gameTurnCount   int
	handles         []rules.Handle
}

func (g *GameEventMixin) Kind() Kind { return KindGameEvent }

// Triggers returns the trigger counts for the current player turn and game turn.
func (g *GameEventMixin) Triggers() (playerTurn, gameTurn int) {
	return g.playerTurnCount, g.gameTurnCount
}

func (g *GameEventMixin) OnApplied(_ context.Context, env *Env, target Target, mod *Modifier) error {
	if env == nil || env.Bus == nil {
		return ErrNoBus
	}
	g.playerTurnCount, g.gameTurnCount = 0, 0

	g.handles = append(g.handles, env.Bus.SubscribeTyped(g.Event, g.Priority, func(ctx context.Context, event rules.Event) error {
		if g.Filter != nil && !g.Filter(env, target, event) {
			return nil
		}
		if g.PerPlayerTurn > 0 && g.playerTurnCount >= g.PerPlayerTurn {
			return nil
		}
		if g.PerGameTurn > 0 && g.gameTurnCount >= g.PerGameTurn {
			return nil
		}
		g.playerTurnCount++
		g.gameTurnCount++
		return g.Effect(ctx, env, target, mod, event, g.Amount)
	}))

	if g.PerPlayerTurn > 0 {
		g.handles = append(g.handles, env.Bus.SubscribeTyped(rules.EventPlayerTurnStarted, turnResetPriority, func(context.Context, rules.Event) error {
			g.playerTurnCount = 0
			return nil
		}))
	}
	if g.PerGameTurn > 0 {
		g.handles = append(g.handles, env.Bus.SubscribeTyped(rules.EventTurnStarted, turnResetPriority, func(context.Context, rules.Event) error {
			g.gameTurnCount = 0
			return nil
		}))
	}
	return nil
}

func (g *GameEventMixin) OnRemoved(_ context.Context, env *Env, _ Target, _ *Modifier) error {
	for _, h := range g.handles {
		env.Bus.Unsubscribe(h)
	}
	g.handles = nil
	return nil
}

// OnReapplied leaves the counters alone; stacking does not grant extra triggers.
func (g *GameEventMixin) OnReapplied(context.Context, *Env, *Modifier) error {
	return nil
}
