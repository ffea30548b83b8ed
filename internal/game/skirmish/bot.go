package skirmish

import (
	"context"

	"github.com/magefree/tactics-server-go/internal/game/random"
	"github.com/magefree/tactics-server-go/internal/game/rules"
	"github.com/magefree/tactics-server-go/internal/game/scheduler"
)

// Autoplay plays turns full player turns for every seat, starting the
// game first if needed. Decisions come from rng, which must not be the
// game's own stream, so the recorded history alone reproduces the game.
// Rule violations the bot provokes are part of the game and are skipped.
func Autoplay(ctx context.Context, g *Game, turns int, rng random.Source) error {
	if !g.started {
		if err := tolerate(g.Start(ctx)); err != nil {
			return err
		}
	}
	for i := 0; i < turns*len(g.players); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := playTurn(ctx, g, rng); err != nil {
			return err
		}
	}
	return nil
}

func playTurn(ctx context.Context, g *Game, rng random.Source) error {
	p := g.Active()

	if rng.Next() < 0.3 {
		if err := discover(ctx, g, p, rng); err != nil {
			return err
		}
	}

	for _, id := range p.Hand() {
		if u := g.units[id]; u.Cost() <= p.mana {
			if err := tolerate(g.Dispatch(ctx, ActionPlay, PlayPayload{Player: p.id, Unit: id})); err != nil {
				return err
			}
		}
	}

	if board := g.Board(p.id); len(board) > 0 && rng.Next() < 0.5 {
		types := g.catalog.Types()
		target := p.id
		if rng.Next() < 0.8 {
			target = board[rng.NextInt(int32(len(board)))].id
		}
		req := ApplyPayload{Player: p.id, Target: target, Modifier: types[rng.NextInt(int32(len(types)))]}
		if err := tolerate(g.Dispatch(ctx, ActionApply, req)); err != nil {
			return err
		}
	}

	for _, u := range g.Board(p.id) {
		if !u.CanAttack() {
			continue
		}
		var enemies []*Unit
		for _, o := range g.Opponents(p.id) {
			enemies = append(enemies, g.Board(o.id)...)
		}
		if len(enemies) == 0 {
			break
		}
		target := enemies[rng.NextInt(int32(len(enemies)))]
		req := AttackPayload{Player: p.id, Attacker: u.id, Target: target.id}
		if err := tolerate(g.Dispatch(ctx, ActionAttack, req)); err != nil {
			return err
		}
	}

	for _, u := range g.Board(p.id) {
		if u.damage > 0 && p.mana >= HealCost {
			req := HealPayload{Player: p.id, Unit: u.id, Amount: 1 + int(rng.NextInt(3))}
			if err := tolerate(g.Dispatch(ctx, ActionHeal, req)); err != nil {
				return err
			}
			break
		}
	}

	return tolerate(g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: p.id}))
}

func discover(ctx context.Context, g *Game, p *Player, rng random.Source) error {
	if err := tolerate(g.Dispatch(ctx, ActionDiscover, PlayerPayload{Player: p.id})); err != nil {
		return err
	}
	_, options, ok := g.Discovering()
	if !ok {
		return nil
	}
	if rng.Next() < 0.2 {
		return tolerate(g.sched.Cancel(ctx))
	}
	pick := PickPayload{Unit: options[rng.NextInt(int32(len(options)))]}
	return tolerate(g.Dispatch(ctx, ActionPick, pick))
}

func tolerate(err error) error {
	if err != nil && rules.IsRuleViolation(err) && !scheduler.IsFatal(err) {
		return nil
	}
	return err
}
