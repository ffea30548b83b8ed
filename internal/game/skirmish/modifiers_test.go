package skirmish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

func apply(g *Game, player, target, modifier string) error {
	return g.Dispatch(context.Background(), ActionApply, ApplyPayload{Player: player, Target: target, Modifier: modifier})
}

func endTurn(t *testing.T, g *Game) {
	t.Helper()
	require.NoError(t, g.Dispatch(context.Background(), ActionEndTurn, PlayerPayload{Player: g.Active().ID()}))
}

func TestBattleFuryExpiresAtEndOfOwnersTurn(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	p1, _ := g.Player("p1")
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 2, Health: 3})

	require.NoError(t, apply(g, "p1", u.ID(), "battle_fury"))
	assert.Equal(t, 5, u.Attack(""))
	assert.Zero(t, p1.Mana())

	endTurn(t, g)
	assert.Equal(t, 2, u.Attack(""))
	assert.Zero(t, u.Modifiers().Len())
}

func TestApplyViolations(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	p1, _ := g.Player("p1")
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 2, Health: 3})
	inHand := place(t, g, "p1", ZoneHand, Stats{Attack: 2, Health: 3})

	requireViolation(t, apply(g, "p2", u.ID(), "battle_fury"), rules.CodeNotYourTurn)
	requireViolation(t, apply(g, "p1", u.ID(), "no_such_modifier"), rules.CodeInvalidPayload)
	requireViolation(t, apply(g, "p1", "ghost", "battle_fury"), rules.CodeUnknownEntity)
	requireViolation(t, apply(g, "p1", inHand.ID(), "battle_fury"), rules.CodeIllegalTarget)
	requireViolation(t, apply(g, "p1", "p1", "battle_fury"), rules.CodeIllegalTarget)
	assert.Equal(t, 1, p1.Mana(), "failed applies cost nothing")
	assert.Zero(t, p1.Modifiers().Len())

	setMana(p1, 0)
	requireViolation(t, apply(g, "p1", u.ID(), "battle_fury"), rules.CodeInsufficientResource)
	assert.Zero(t, u.Modifiers().Len())
}

func TestSentinelCannotAttackOrBeDispelled(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 2, Health: 3})
	enemy := place(t, g, "p2", ZoneBoard, Stats{Attack: 1, Health: 3})
	require.True(t, u.CanAttack())

	require.NoError(t, apply(g, "p1", u.ID(), "sentinel"))
	assert.False(t, u.CanAttack())
	requireViolation(t, g.Dispatch(ctx, ActionAttack, AttackPayload{Player: "p1", Attacker: u.ID(), Target: enemy.ID()}), rules.CodeIllegalTarget)

	removed, err := u.Modifiers().Remove(ctx, "sentinel")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, u.Modifiers().Has("sentinel"))
}

func TestRallyingBannerFollowsTheBoard(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	p1, _ := g.Player("p1")
	setMana(p1, 5)
	holder := place(t, g, "p1", ZoneBoard, Stats{Attack: 2, Health: 3})
	ally := place(t, g, "p1", ZoneBoard, Stats{Attack: 1, Health: 3})
	enemy := place(t, g, "p2", ZoneBoard, Stats{Attack: 1, Health: 3})
	recruit := place(t, g, "p1", ZoneHand, Stats{Attack: 1, Health: 1, Cost: 1})

	require.NoError(t, apply(g, "p1", holder.ID(), "rallying_banner"))
	assert.Equal(t, 2, holder.Attack(""), "the holder is not rallied by its own banner")
	assert.Equal(t, 2, ally.Attack(""))
	assert.Equal(t, 1, enemy.Attack(""))
	assert.Equal(t, 1, recruit.Attack(""), "units in hand are not rallied")

	require.NoError(t, g.Dispatch(ctx, ActionPlay, PlayPayload{Player: "p1", Unit: recruit.ID()}))
	assert.Equal(t, 2, recruit.Attack(""))

	holder.damage = holder.Health()
	require.NoError(t, g.Dispatch(ctx, ActionDestroy, DestroyPayload{Unit: holder.ID()}))
	assert.Equal(t, ZoneGraveyard, holder.Zone())
	assert.Zero(t, holder.Modifiers().Len())
	assert.Equal(t, 1, ally.Attack(""))
	assert.Equal(t, 1, recruit.Attack(""))
}

func TestDestroyRequiresLethalDamage(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 2, Health: 3})
	inHand := place(t, g, "p1", ZoneHand, Stats{Attack: 2, Health: 3})

	require.NoError(t, g.Dispatch(ctx, ActionDestroy, DestroyPayload{Unit: u.ID()}))
	assert.Equal(t, ZoneBoard, u.Zone(), "a unit with health left survives")
	requireViolation(t, g.Dispatch(ctx, ActionDestroy, DestroyPayload{Unit: inHand.ID()}), rules.CodeIllegalTarget)
}

func TestBerserkDoublesAttackWhileDamaged(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 3, Health: 5})

	require.NoError(t, apply(g, "p1", u.ID(), "berserk"))
	assert.Equal(t, 3, u.Attack(""))

	u.damage = 1
	assert.Equal(t, 6, u.Attack(""))
	u.damage = 0
	assert.Equal(t, 3, u.Attack(""))
}

func TestVampiricHealsOncePerPlayerTurn(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 2, Health: 5})
	enemy := place(t, g, "p2", ZoneBoard, Stats{Attack: 1, Health: 9})
	log := observe(g)

	require.NoError(t, apply(g, "p1", u.ID(), "vampiric"))
	attack := AttackPayload{Player: "p1", Attacker: u.ID(), Target: enemy.ID()}

	require.NoError(t, g.Dispatch(ctx, ActionAttack, attack))
	assert.Zero(t, u.Damage(), "the return blow is healed back")
	assert.Equal(t, 2, enemy.Damage())
	assert.Len(t, log.only(EventUnitHealed), 1)

	u.exhausted = false
	require.NoError(t, g.Dispatch(ctx, ActionAttack, attack))
	assert.Equal(t, 1, u.Damage(), "the trigger is spent for this turn")
	assert.Len(t, log.only(EventUnitHealed), 1)
}

func TestFortifyStacks(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	p1, _ := g.Player("p1")
	setMana(p1, 3)
	u := place(t, g, "p1", ZoneBoard, Stats{Attack: 1, Health: 2})

	require.NoError(t, apply(g, "p1", u.ID(), "fortify"))
	require.NoError(t, apply(g, "p1", u.ID(), "fortify"))
	assert.Equal(t, 6, u.Health())
	mod, ok := u.Modifiers().Get("fortify")
	require.True(t, ok)
	assert.Equal(t, 2, mod.Stacks)
	assert.Equal(t, 1, p1.Mana())
}

func TestTitheRaisesIncomeForTwoTurns(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	p1, _ := g.Player("p1")

	require.NoError(t, apply(g, "p1", "p1", "tithe"))
	assert.Equal(t, 2, p1.Income())

	endTurn(t, g)
	endTurn(t, g)
	assert.Equal(t, 3, p1.MaxMana())

	endTurn(t, g)
	endTurn(t, g)
	assert.Equal(t, 5, p1.MaxMana())
	assert.Equal(t, 1, p1.Income())
	assert.Zero(t, p1.Modifiers().Len())

	endTurn(t, g)
	endTurn(t, g)
	assert.Equal(t, 6, p1.MaxMana())
}
