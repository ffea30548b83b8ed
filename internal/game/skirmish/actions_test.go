package skirmish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magefree/tactics-server-go/internal/game/rules"
	"github.com/magefree/tactics-server-go/internal/game/scheduler"
)

func TestPlayUnit(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	p1, _ := g.Player("p1")
	cheap := place(t, g, "p1", ZoneHand, Stats{Attack: 1, Health: 1, Cost: 1})
	costly := place(t, g, "p1", ZoneHand, Stats{Attack: 4, Health: 4, Cost: 4})
	enemy := place(t, g, "p2", ZoneHand, Stats{Attack: 1, Health: 1, Cost: 0})

	requireViolation(t, g.Dispatch(ctx, ActionPlay, PlayPayload{Player: "p1", Unit: costly.ID()}), rules.CodeInsufficientResource)
	requireViolation(t, g.Dispatch(ctx, ActionPlay, PlayPayload{Player: "p1", Unit: enemy.ID()}), rules.CodeIllegalTarget)
	requireViolation(t, g.Dispatch(ctx, ActionPlay, PlayPayload{Player: "p1", Unit: "nope"}), rules.CodeUnknownEntity)

	require.NoError(t, g.Dispatch(ctx, ActionPlay, PlayPayload{Player: "p1", Unit: cheap.ID()}))
	assert.Equal(t, ZoneBoard, cheap.Zone())
	assert.True(t, cheap.Exhausted(), "units cannot attack the turn they are played")
	assert.False(t, cheap.CanAttack())
	assert.Equal(t, 0, p1.Mana())
	assert.Equal(t, []string{costly.ID()}, p1.Hand())

	requireViolation(t, g.Dispatch(ctx, ActionPlay, PlayPayload{Player: "p1", Unit: cheap.ID()}), rules.CodeIllegalTarget)
}

func TestAttackIsSimultaneousAndDestroysAsFollowUp(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	attacker := place(t, g, "p1", ZoneBoard, Stats{Attack: 3, Health: 3})
	defender := place(t, g, "p2", ZoneBoard, Stats{Attack: 1, Health: 2})
	log := observe(g)

	require.NoError(t, g.Dispatch(ctx, ActionAttack, AttackPayload{Player: "p1", Attacker: attacker.ID(), Target: defender.ID()}))

	assert.Equal(t, ZoneGraveyard, defender.Zone())
	assert.Zero(t, defender.Damage())
	assert.Equal(t, 1, attacker.Damage())
	assert.True(t, attacker.Exhausted())
	assert.Equal(t, []rules.EventType{EventUnitAttacked, EventUnitDamaged, EventUnitDamaged, EventUnitDestroyed},
		log.only(EventUnitAttacked, EventUnitDamaged, EventUnitDestroyed))

	var types []string
	for _, a := range g.Scheduler().History() {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{ActionStart, ActionAttack}, types, "follow-ups are not recorded")
}

func TestAttackViolations(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	attacker := place(t, g, "p1", ZoneBoard, Stats{Attack: 1, Health: 5})
	friend := place(t, g, "p1", ZoneBoard, Stats{Attack: 1, Health: 5})
	enemy := place(t, g, "p2", ZoneBoard, Stats{Attack: 1, Health: 5})
	hidden := place(t, g, "p2", ZoneHand, Stats{Attack: 1, Health: 5})

	attack := func(from, to *Unit) error {
		return g.Dispatch(ctx, ActionAttack, AttackPayload{Player: "p1", Attacker: from.ID(), Target: to.ID()})
	}
	requireViolation(t, attack(attacker, friend), rules.CodeIllegalTarget)
	requireViolation(t, attack(attacker, hidden), rules.CodeIllegalTarget)
	requireViolation(t, attack(enemy, attacker), rules.CodeIllegalTarget)

	require.NoError(t, attack(attacker, enemy))
	requireViolation(t, attack(attacker, enemy), rules.CodeIllegalTarget)
	assert.Equal(t, 1, enemy.Damage())
}

func TestHeal(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	p1, _ := g.Player("p1")
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 1, Health: 3})
	healthy := place(t, g, "p1", ZoneBoard, Stats{Attack: 1, Health: 3})
	u.damage = 2

	requireViolation(t, g.Dispatch(ctx, ActionHeal, HealPayload{Player: "p1", Unit: u.ID()}), rules.CodeInvalidPayload)
	requireViolation(t, g.Dispatch(ctx, ActionHeal, HealPayload{Player: "p1", Unit: healthy.ID(), Amount: 1}), rules.CodeIllegalTarget)

	require.NoError(t, g.Dispatch(ctx, ActionHeal, HealPayload{Player: "p1", Unit: u.ID(), Amount: 5}))
	assert.Zero(t, u.Damage())
	assert.Zero(t, p1.Mana())
}

func TestDiscoverPickDefersOtherActions(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	p1, _ := g.Player("p1")
	var deck []string
	for i := 0; i < 4; i++ {
		deck = append(deck, place(t, g, "p1", ZoneDeck, Stats{Attack: 1, Health: 1, Cost: 1}).ID())
	}

	require.NoError(t, g.Dispatch(ctx, ActionDiscover, PlayerPayload{Player: "p1"}))
	assert.Equal(t, scheduler.StatePaused, g.Scheduler().State())
	kind, ok := g.Scheduler().Awaiting()
	require.True(t, ok)
	assert.Equal(t, ChoiceCard, kind)
	player, options, ok := g.Discovering()
	require.True(t, ok)
	assert.Equal(t, "p1", player)
	assert.Equal(t, deck[:3], options)
	assert.Equal(t, 0, p1.Mana())

	// not an answer, so it waits for the discover to finish
	require.NoError(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p1"}))
	assert.Equal(t, 1, g.Scheduler().Pending())

	require.NoError(t, g.Dispatch(ctx, ActionPick, PickPayload{Unit: deck[1]}))
	require.NoError(t, g.Scheduler().Wait(ctx))

	assert.Equal(t, []string{deck[1]}, p1.Hand())
	assert.Equal(t, []string{deck[3], deck[0], deck[2]}, p1.deck)
	assert.Equal(t, ZoneHand, g.units[deck[1]].Zone())
	_, _, ok = g.Discovering()
	assert.False(t, ok)
	assert.Equal(t, "p2", g.Active().ID(), "the deferred turn.end ran after the pick")
	assert.Equal(t, scheduler.StateIdle, g.Scheduler().State())
}

func TestDiscoverCancelRefunds(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	p1, _ := g.Player("p1")
	for i := 0; i < 3; i++ {
		place(t, g, "p1", ZoneDeck, Stats{Attack: 1, Health: 1, Cost: 1})
	}
	deck := append([]string(nil), p1.deck...)

	require.NoError(t, g.Dispatch(ctx, ActionDiscover, PlayerPayload{Player: "p1"}))
	require.NoError(t, g.Scheduler().Cancel(ctx))

	assert.Equal(t, 1, p1.Mana())
	assert.Empty(t, p1.Hand())
	assert.Equal(t, deck, p1.deck)
	assert.Equal(t, scheduler.StateIdle, g.Scheduler().State())
}

func TestDiscoverRejectsUnofferedPick(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	p1, _ := g.Player("p1")
	for i := 0; i < 4; i++ {
		place(t, g, "p1", ZoneDeck, Stats{Attack: 1, Health: 1, Cost: 1})
	}
	last := p1.deck[3]

	require.NoError(t, g.Dispatch(ctx, ActionDiscover, PlayerPayload{Player: "p1"}))
	requireViolation(t, g.Dispatch(ctx, ActionPick, PickPayload{Unit: last}), rules.CodeInvalidPayload)

	assert.Equal(t, 1, p1.Mana())
	assert.Empty(t, p1.Hand())
	assert.Equal(t, 4, p1.DeckSize())
	_, _, ok := g.Discovering()
	assert.False(t, ok)
}

func TestDiscoverViolations(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	p1, _ := g.Player("p1")

	requireViolation(t, g.Dispatch(ctx, ActionDiscover, PlayerPayload{Player: "p1"}), rules.CodeIllegalTarget)

	place(t, g, "p1", ZoneDeck, Stats{Attack: 1, Health: 1, Cost: 1})
	setMana(p1, 0)
	requireViolation(t, g.Dispatch(ctx, ActionDiscover, PlayerPayload{Player: "p1"}), rules.CodeInsufficientResource)
	assert.Equal(t, scheduler.StateIdle, g.Scheduler().State())
}
