package skirmish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/modifiers"
	"github.com/magefree/tactics-server-go/internal/game/rules"
	"github.com/magefree/tactics-server-go/internal/game/scheduler"
)

// PlayPayload moves a unit from hand to board.
type PlayPayload struct {
	Player string `json:"player"`
	Unit   string `json:"unit"`
}

// AttackPayload makes one board unit fight an enemy board unit.
type AttackPayload struct {
	Player   string `json:"player"`
	Attacker string `json:"attacker"`
	Target   string `json:"target"`
}

// HealPayload removes damage from an allied unit.
type HealPayload struct {
	Player string `json:"player"`
	Unit   string `json:"unit"`
	Amount int    `json:"amount"`
}

// ApplyPayload applies a catalog modifier to a board unit or a player.
type ApplyPayload struct {
	Player   string `json:"player"`
	Target   string `json:"target"`
	Modifier string `json:"modifier"`
}

// PlayerPayload carries only the acting player.
type PlayerPayload struct {
	Player string `json:"player"`
}

// PickPayload answers a card choice.
type PickPayload struct {
	Unit string `json:"unit"`
}

// DestroyPayload names a unit whose damage reached its health.
type DestroyPayload struct {
	Unit string `json:"unit"`
}

func (g *Game) registerActions() {
	for _, def := range []scheduler.Definition{
		{Type: ActionStart, Handler: g.handleStart},
		{Type: ActionPlay, Handler: g.handlePlay},
		{Type: ActionAttack, Handler: g.handleAttack},
		{Type: ActionHeal, Handler: g.handleHeal},
		{Type: ActionDestroy, Handler: g.handleDestroy},
		{Type: ActionApply, Handler: g.handleApply},
		{Type: ActionEndTurn, Handler: g.handleEndTurn},
		{Type: ActionDiscover, Handler: g.handleDiscover},
		{Type: ActionPick, Responds: ChoiceCard},
	} {
		g.sched.Register(def)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return rules.Violation(rules.CodeInvalidPayload, "missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return rules.Violation(rules.CodeInvalidPayload, "malformed payload: %v", err)
	}
	return nil
}

// requireActive returns the acting player if it is their turn.
func (g *Game) requireActive(playerID string) (*Player, error) {
	if !g.started {
		return nil, rules.Violation(rules.CodeWrongPhase, "game has not started")
	}
	p := g.player(playerID)
	if p == nil {
		return nil, rules.Violation(rules.CodeUnknownEntity, "unknown player %q", playerID)
	}
	if g.discovering != nil {
		return nil, rules.Violation(rules.CodeWrongPhase, "a card choice is pending")
	}
	if g.Active() != p {
		return nil, rules.Violation(rules.CodeNotYourTurn, "it is %s's turn", g.Active().id)
	}
	return p, nil
}

func (g *Game) unit(id string) (*Unit, error) {
	u, ok := g.units[id]
	if !ok {
		return nil, rules.Violation(rules.CodeUnknownEntity, "unknown unit %q", id)
	}
	return u, nil
}

func spend(p *Player, cost int) error {
	if p.mana < cost {
		return rules.Violation(rules.CodeInsufficientResource, "needs %d mana, has %d", cost, p.mana)
	}
	p.mana -= cost
	return nil
}

func (g *Game) publish(ctx context.Context, event rules.Event) error {
	return g.bus.Publish(ctx, event)
}

func (g *Game) handleStart(ctx context.Context, _ *scheduler.Execution, _ json.RawMessage) error {
	if g.started {
		return rules.Violation(rules.CodeWrongPhase, "game already started")
	}
	g.started = true
	g.turn = 1
	if g.setup.FirstPlayer != "" {
		g.first = slices.IndexFunc(g.players, func(p *Player) bool { return p.id == g.setup.FirstPlayer })
	} else {
		g.first = int(g.rng.NextInt(int32(len(g.players))))
	}
	g.active = g.first

	for _, p := range g.players {
		for i := 0; i < g.setup.HandSize; i++ {
			if err := g.draw(ctx, p); err != nil {
				return err
			}
		}
	}
	g.logger.Info("skirmish started", zap.String("first_player", g.Active().id))

	if err := g.publish(ctx, rules.NewEvent(rules.EventTurnStarted, "", "", "")); err != nil {
		return err
	}
	return g.startPlayerTurn(ctx)
}

func (g *Game) startPlayerTurn(ctx context.Context) error {
	p := g.Active()
	g.snaps.MarkRedactionBoundary()
	for _, u := range g.Board(p.id) {
		u.exhausted = false
	}
	p.maxMana = min(MaxMana, p.maxMana+p.Income())
	p.mana = p.maxMana
	if err := g.draw(ctx, p); err != nil {
		return err
	}
	evt := rules.NewEvent(rules.EventPlayerTurnStarted, "", "", p.id)
	evt.Metadata["turn"] = strconv.Itoa(g.turn)
	return g.publish(ctx, evt)
}

func (g *Game) handleEndTurn(ctx context.Context, _ *scheduler.Execution, payload json.RawMessage) error {
	var req PlayerPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	p, err := g.requireActive(req.Player)
	if err != nil {
		return err
	}

	if err := g.publish(ctx, rules.NewEvent(rules.EventPlayerTurnEnded, "", "", p.id)); err != nil {
		return err
	}
	g.active = (g.active + 1) % len(g.players)
	if g.active == g.first {
		if err := g.publish(ctx, rules.NewEvent(rules.EventTurnEnded, "", "", "")); err != nil {
			return err
		}
		g.turn++
		if err := g.publish(ctx, rules.NewEvent(rules.EventTurnStarted, "", "", "")); err != nil {
			return err
		}
	}
	return g.startPlayerTurn(ctx)
}

// draw moves the top of the deck to hand, or to the graveyard when the
// hand is full. An empty deck draws nothing.
func (g *Game) draw(ctx context.Context, p *Player) error {
	if len(p.deck) == 0 {
		return nil
	}
	id := p.deck[0]
	p.deck = p.deck[1:]
	u := g.units[id]
	if len(p.hand) >= HandLimit {
		u.zone = ZoneGraveyard
		return g.publish(ctx, rules.NewEvent(EventCardDiscarded, id, "", p.id))
	}
	u.zone = ZoneHand
	p.hand = append(p.hand, id)
	return g.publish(ctx, rules.NewEvent(EventCardDrawn, id, "", p.id))
}

func (g *Game) handlePlay(ctx context.Context, _ *scheduler.Execution, payload json.RawMessage) error {
	var req PlayPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	p, err := g.requireActive(req.Player)
	if err != nil {
		return err
	}
	u, err := g.unit(req.Unit)
	if err != nil {
		return err
	}
	if u.owner != p.id || u.zone != ZoneHand {
		return rules.Violation(rules.CodeIllegalTarget, "%s is not in %s's hand", u.id, p.id)
	}
	if err := spend(p, u.Cost()); err != nil {
		return err
	}

	p.hand, _ = removeID(p.hand, u.id)
	u.zone = ZoneBoard
	u.exhausted = true
	g.logger.Debug("unit played", zap.String("unit_id", u.id), zap.String("player_id", p.id))
	return g.publish(ctx, rules.NewEvent(EventUnitPlayed, u.id, "", p.id))
}

func (g *Game) handleAttack(ctx context.Context, exec *scheduler.Execution, payload json.RawMessage) error {
	var req AttackPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	p, err := g.requireActive(req.Player)
	if err != nil {
		return err
	}
	attacker, err := g.unit(req.Attacker)
	if err != nil {
		return err
	}
	target, err := g.unit(req.Target)
	if err != nil {
		return err
	}
	if attacker.owner != p.id || attacker.zone != ZoneBoard {
		return rules.Violation(rules.CodeIllegalTarget, "%s is not on %s's board", attacker.id, p.id)
	}
	if !attacker.CanAttack() {
		return rules.Violation(rules.CodeIllegalTarget, "%s cannot attack", attacker.id)
	}
	if target.owner == p.id || target.zone != ZoneBoard {
		return rules.Violation(rules.CodeIllegalTarget, "%s is not an enemy on the board", target.id)
	}

	// combat damage is simultaneous
	toTarget := attacker.Attack(target.id)
	toAttacker := target.Attack(attacker.id)
	attacker.exhausted = true

	if err := g.publish(ctx, rules.NewEvent(EventUnitAttacked, target.id, attacker.id, p.id)); err != nil {
		return err
	}
	target.damage += toTarget
	attacker.damage += toAttacker
	if toTarget > 0 {
		if err := g.publish(ctx, rules.NewEventWithAmount(EventUnitDamaged, target.id, attacker.id, target.owner, toTarget)); err != nil {
			return err
		}
	}
	if toAttacker > 0 {
		if err := g.publish(ctx, rules.NewEventWithAmount(EventUnitDamaged, attacker.id, target.id, attacker.owner, toAttacker)); err != nil {
			return err
		}
	}

	for _, u := range []*Unit{target, attacker} {
		if u.zone == ZoneBoard && u.Remaining() <= 0 {
			action, err := scheduler.NewAction(ActionDestroy, DestroyPayload{Unit: u.id})
			if err != nil {
				return err
			}
			if err := exec.Enqueue(action); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Game) handleDestroy(ctx context.Context, _ *scheduler.Execution, payload json.RawMessage) error {
	var req DestroyPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	u, err := g.unit(req.Unit)
	if err != nil {
		return err
	}
	if u.zone != ZoneBoard {
		return rules.Violation(rules.CodeIllegalTarget, "%s is not on the board", u.id)
	}
	if u.Remaining() > 0 {
		// healed after the destroy was queued
		return nil
	}

	if err := u.mods.Teardown(ctx); err != nil {
		return fmt.Errorf("tear down %s: %w", u.id, err)
	}
	u.zone = ZoneGraveyard
	u.damage = 0
	u.exhausted = false
	g.logger.Debug("unit destroyed", zap.String("unit_id", u.id))
	return g.publish(ctx, rules.NewEvent(EventUnitDestroyed, u.id, "", u.owner))
}

func (g *Game) handleHeal(ctx context.Context, _ *scheduler.Execution, payload json.RawMessage) error {
	var req HealPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	if req.Amount <= 0 {
		return rules.Violation(rules.CodeInvalidPayload, "heal amount must be positive")
	}
	p, err := g.requireActive(req.Player)
	if err != nil {
		return err
	}
	u, err := g.unit(req.Unit)
	if err != nil {
		return err
	}
	if u.owner != p.id || u.zone != ZoneBoard {
		return rules.Violation(rules.CodeIllegalTarget, "%s is not on %s's board", u.id, p.id)
	}
	if u.damage == 0 {
		return rules.Violation(rules.CodeIllegalTarget, "%s is not damaged", u.id)
	}
	if err := spend(p, HealCost); err != nil {
		return err
	}
	return g.heal(ctx, u, req.Amount, p.id)
}

func (g *Game) heal(ctx context.Context, u *Unit, amount int, source string) error {
	healed := min(amount, u.damage)
	if healed <= 0 {
		return nil
	}
	u.damage -= healed
	return g.publish(ctx, rules.NewEventWithAmount(EventUnitHealed, u.id, source, u.owner, healed))
}

func (g *Game) handleApply(ctx context.Context, _ *scheduler.Execution, payload json.RawMessage) error {
	var req ApplyPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	p, err := g.requireActive(req.Player)
	if err != nil {
		return err
	}
	target, ok := g.Target(req.Target)
	if !ok {
		return rules.Violation(rules.CodeUnknownEntity, "unknown target %q", req.Target)
	}
	if u, isUnit := target.(*Unit); isUnit && u.zone != ZoneBoard {
		return rules.Violation(rules.CodeIllegalTarget, "%s is not on the board", u.id)
	}
	mod, err := g.catalog.New(req.Modifier, p.id)
	if errors.Is(err, modifiers.ErrUnknownType) {
		return rules.Violation(rules.CodeInvalidPayload, "unknown modifier %q", req.Modifier)
	}
	if err != nil {
		return err
	}
	if p.mana < ApplyCost {
		return rules.Violation(rules.CodeInsufficientResource, "needs %d mana, has %d", ApplyCost, p.mana)
	}

	if _, err := target.Modifiers().Add(ctx, mod); err != nil {
		if errors.Is(err, modifiers.ErrUnknownSlot) {
			return rules.Violation(rules.CodeIllegalTarget, "%s cannot carry %s", req.Target, req.Modifier)
		}
		return fmt.Errorf("apply %s to %s: %w", req.Modifier, req.Target, err)
	}
	p.mana -= ApplyCost
	return nil
}

func (g *Game) handleDiscover(ctx context.Context, exec *scheduler.Execution, payload json.RawMessage) error {
	var req PlayerPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	p, err := g.requireActive(req.Player)
	if err != nil {
		return err
	}
	if len(p.deck) == 0 {
		return rules.Violation(rules.CodeIllegalTarget, "%s's deck is empty", p.id)
	}
	if len(p.hand) >= HandLimit {
		return rules.Violation(rules.CodeIllegalTarget, "%s's hand is full", p.id)
	}
	if err := spend(p, DiscoverCost); err != nil {
		return err
	}

	options := slices.Clone(p.deck[:min(DiscoverOptions, len(p.deck))])
	g.discovering = &discovery{player: p.id, options: options}
	choice, err := exec.Pause(ctx, ChoiceCard)
	g.discovering = nil
	if err != nil {
		return err
	}

	var pick PickPayload
	err = choice.Decode(&pick)
	if errors.Is(err, scheduler.ErrCancelled) {
		p.mana += DiscoverCost
		return nil
	}
	if err == nil && !slices.Contains(options, pick.Unit) {
		err = fmt.Errorf("%q is not one of %v", pick.Unit, options)
	}
	if err != nil {
		p.mana += DiscoverCost
		return rules.Violation(rules.CodeInvalidPayload, "invalid pick: %v", err)
	}

	// the options that were not picked go to the bottom of the deck
	rest := p.deck[len(options):]
	deck := make([]string, 0, len(p.deck)-1)
	deck = append(deck, rest...)
	for _, id := range options {
		if id != pick.Unit {
			deck = append(deck, id)
		}
	}
	p.deck = deck
	p.hand = append(p.hand, pick.Unit)
	g.units[pick.Unit].zone = ZoneHand

	drawn := rules.NewEvent(EventCardDrawn, pick.Unit, "", p.id)
	drawn.Metadata["source"] = "discover"
	if err := g.publish(ctx, drawn); err != nil {
		return err
	}
	return g.publish(ctx, rules.NewEvent(EventCardRevealed, pick.Unit, "", p.id))
}
