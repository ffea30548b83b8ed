package skirmish

import (
	"context"

	"github.com/magefree/tactics-server-go/internal/game/effects"
	"github.com/magefree/tactics-server-go/internal/game/modifiers"
	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// registry names the hooks catalog entries may refer to.
func (g *Game) registry() modifiers.Registry {
	return modifiers.Registry{
		Predicates: map[string]modifiers.Predicate{
			"damaged": func(_ *modifiers.Env, _ modifiers.Target, ec effects.EvalContext) bool {
				return ec.HasTag(TagDamaged)
			},
		},
		Eligibility: map[string]modifiers.Eligibility{
			"board_ally": boardAlly,
		},
		Filters: map[string]modifiers.EventFilter{
			"owner_turn": func(_ *modifiers.Env, holder modifiers.Target, event rules.Event) bool {
				return event.PlayerID == ownerOf(holder)
			},
			"dealt_by_holder": func(_ *modifiers.Env, holder modifiers.Target, event rules.Event) bool {
				return event.SourceID == holder.ID()
			},
		},
		Effects: map[string]modifiers.EventEffect{
			"heal_holder": func(ctx context.Context, _ *modifiers.Env, holder modifiers.Target, _ *modifiers.Modifier, _ rules.Event, amount int) error {
				u, ok := holder.(*Unit)
				if !ok || u.zone != ZoneBoard {
					return nil
				}
				return g.heal(ctx, u, amount, u.id)
			},
		},
	}
}

// boardAlly accepts units on the board that share the holder's owner. A
// unit holder only projects its aura while it is on the board itself.
func boardAlly(_ *modifiers.Env, holder, candidate modifiers.Target) bool {
	if u, ok := holder.(*Unit); ok && u.zone != ZoneBoard {
		return false
	}
	c, ok := candidate.(*Unit)
	if !ok || c.zone != ZoneBoard {
		return false
	}
	return c.owner == ownerOf(holder)
}
