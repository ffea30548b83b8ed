package skirmish

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/magefree/tactics-server-go/internal/game/random"
	"github.com/magefree/tactics-server-go/internal/game/rules"
	"github.com/magefree/tactics-server-go/internal/game/scheduler"
)

// newTestGame builds a game with empty decks where p1 moves first, so
// tests place exactly the units they need.
func newTestGame(t *testing.T, mutate ...func(*Options)) *Game {
	t.Helper()
	opts := Options{
		Setup:  Setup{Seed: 7, Players: []string{"p1", "p2"}, FirstPlayer: "p1"},
		Logger: zaptest.NewLogger(t),
	}
	for _, m := range mutate {
		m(&opts)
	}
	g, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func startGame(t *testing.T, g *Game) {
	t.Helper()
	require.NoError(t, g.Start(context.Background()))
}

func place(t *testing.T, g *Game, owner string, zone Zone, stats Stats) *Unit {
	t.Helper()
	p, ok := g.Player(owner)
	require.True(t, ok)
	u := g.spawn(owner, "Footman", stats)
	u.zone = zone
	switch zone {
	case ZoneHand:
		p.hand = append(p.hand, u.id)
	case ZoneDeck:
		p.deck = append(p.deck, u.id)
	}
	return u
}

func setMana(p *Player, n int) {
	p.mana, p.maxMana = n, n
}

func requireViolation(t *testing.T, err error, code string) {
	t.Helper()
	violation, ok := rules.AsRuleViolation(err)
	require.True(t, ok, "expected rule violation %s, got %v", code, err)
	assert.Equal(t, code, violation.Code)
}

type eventLog struct {
	mu    sync.Mutex
	types []rules.EventType
}

func observe(g *Game) *eventLog {
	log := &eventLog{}
	g.Observe(func(_ context.Context, event rules.Event) error {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.types = append(log.types, event.Type)
		return nil
	})
	return log
}

func (l *eventLog) only(types ...rules.EventType) []rules.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []rules.EventType
	for _, typ := range l.types {
		for _, want := range types {
			if typ == want {
				out = append(out, typ)
			}
		}
	}
	return out
}

func TestNewValidatesSetup(t *testing.T) {
	cases := map[string]Setup{
		"one player":     {Players: []string{"p1"}},
		"duplicate seat": {Players: []string{"p1", "p1"}},
		"reserved id":    {Players: []string{"p1", GameEntityID}},
		"unseated first": {Players: []string{"p1", "p2"}, FirstPlayer: "p3"},
		"negative deck":  {Players: []string{"p1", "p2"}, DeckSize: -1},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(Options{Setup: setup})
			assert.Error(t, err)
		})
	}
}

func TestNewDerivesGameIDFromSeed(t *testing.T) {
	a := newTestGame(t)
	b := newTestGame(t)
	c := newTestGame(t, func(o *Options) { o.Seed = 8 })

	assert.NotEmpty(t, a.ID())
	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestStartDealsOpeningHands(t *testing.T) {
	g := newTestGame(t, func(o *Options) {
		o.DeckSize = 20
		o.HandSize = 3
	})
	startGame(t, g)

	p1, _ := g.Player("p1")
	p2, _ := g.Player("p2")
	assert.True(t, g.Started())
	assert.Equal(t, 1, g.Turn())
	assert.Same(t, p1, g.Active())
	assert.Len(t, p1.Hand(), 4, "opening hand plus the first turn's draw")
	assert.Len(t, p2.Hand(), 3)
	assert.Equal(t, 16, p1.DeckSize())
	assert.Equal(t, 17, p2.DeckSize())
	assert.Equal(t, 1, p1.Mana())
	assert.Equal(t, 0, p2.Mana())

	for _, id := range p1.Hand() {
		u, ok := g.Unit(id)
		require.True(t, ok)
		assert.Equal(t, ZoneHand, u.Zone())
	}

	requireViolation(t, g.Start(context.Background()), rules.CodeWrongPhase)
}

func TestStartPicksFirstPlayerFromSeed(t *testing.T) {
	first := func(seed uint64) string {
		g := newTestGame(t, func(o *Options) {
			o.Seed = seed
			o.FirstPlayer = ""
		})
		startGame(t, g)
		return g.Active().ID()
	}
	assert.Equal(t, first(3), first(3))
}

func TestTurnRotation(t *testing.T) {
	g := newTestGame(t)
	log := observe(g)
	startGame(t, g)
	ctx := context.Background()

	require.NoError(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p1"}))
	assert.Equal(t, "p2", g.Active().ID())
	assert.Equal(t, 1, g.Turn())

	require.NoError(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p2"}))
	assert.Equal(t, "p1", g.Active().ID())
	assert.Equal(t, 2, g.Turn())

	p1, _ := g.Player("p1")
	assert.Equal(t, 2, p1.MaxMana())
	assert.Equal(t, []rules.EventType{
		rules.EventTurnStarted,
		rules.EventPlayerTurnStarted,
		rules.EventPlayerTurnEnded,
		rules.EventPlayerTurnStarted,
		rules.EventPlayerTurnEnded,
		rules.EventTurnEnded,
		rules.EventTurnStarted,
		rules.EventPlayerTurnStarted,
	}, log.only(rules.EventTurnStarted, rules.EventTurnEnded, rules.EventPlayerTurnStarted, rules.EventPlayerTurnEnded))
}

func TestManaIsCapped(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	p1, _ := g.Player("p1")
	setMana(p1, MaxMana)

	ctx := context.Background()
	require.NoError(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p1"}))
	require.NoError(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p2"}))
	assert.Equal(t, MaxMana, p1.MaxMana())
}

func TestActionViolations(t *testing.T) {
	g := newTestGame(t)
	ctx := context.Background()

	requireViolation(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p1"}), rules.CodeWrongPhase)

	startGame(t, g)
	requireViolation(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p2"}), rules.CodeNotYourTurn)
	requireViolation(t, g.Dispatch(ctx, ActionEndTurn, PlayerPayload{Player: "p9"}), rules.CodeUnknownEntity)
	requireViolation(t, g.Dispatch(ctx, ActionEndTurn, nil), rules.CodeInvalidPayload)
	requireViolation(t, g.Scheduler().Dispatch(ctx, scheduler.Action{Type: ActionEndTurn, Payload: json.RawMessage(`[1]`)}), rules.CodeInvalidPayload)
	requireViolation(t, g.Dispatch(ctx, ActionPick, PickPayload{Unit: "p1.u01"}), rules.CodeWrongPhase)

	assert.Equal(t, scheduler.StateIdle, g.Scheduler().State())
	assert.Equal(t, "p1", g.Active().ID(), "violations leave the game untouched")
}

func TestDrawDiscardsAtHandLimit(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	p1, _ := g.Player("p1")
	for i := 0; i < HandLimit; i++ {
		place(t, g, "p1", ZoneHand, Stats{Attack: 1, Health: 1, Cost: 1})
	}
	top := place(t, g, "p1", ZoneDeck, Stats{Attack: 1, Health: 1, Cost: 1})
	log := observe(g)

	require.NoError(t, g.draw(context.Background(), p1))
	assert.Equal(t, ZoneGraveyard, top.Zone())
	assert.Len(t, p1.Hand(), HandLimit)
	assert.Zero(t, p1.DeckSize())
	assert.Equal(t, []rules.EventType{EventCardDiscarded}, log.only(EventCardDrawn, EventCardDiscarded))

	require.NoError(t, g.draw(context.Background(), p1), "drawing from an empty deck is a no-op")
}

func TestReplayReproducesAutoplay(t *testing.T) {
	ctx := context.Background()
	opts := Options{Setup: DefaultSetup(42)}

	opts.Logger = zaptest.NewLogger(t)
	original, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(original.Close)
	require.NoError(t, Autoplay(ctx, original, 6, random.New(1234)))

	history := original.Scheduler().History()
	require.Greater(t, len(history), 12)
	want, err := original.Checksum()
	require.NoError(t, err)

	opts.Logger = zaptest.NewLogger(t)
	replayed, err := Replay(ctx, opts, history)
	require.NoError(t, err)
	t.Cleanup(replayed.Close)

	got, err := replayed.Checksum()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, original.SerializeEntities(), replayed.SerializeEntities())
	assert.Equal(t, original.RandomDraws(), replayed.RandomDraws())

	a, err := original.Scheduler().SerializeHistory()
	require.NoError(t, err)
	b, err := replayed.Scheduler().SerializeHistory()
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestObserverErrorsDoNotFailActions(t *testing.T) {
	g := newTestGame(t)
	g.Observe(func(context.Context, rules.Event) error {
		return assert.AnError
	})
	startGame(t, g)
	assert.Equal(t, scheduler.StateIdle, g.Scheduler().State())
}

func TestParallelObserverPanicDoesNotHaltGame(t *testing.T) {
	g := newTestGame(t, func(o *Options) { o.ObserverMode = rules.DispatchParallel })
	g.Observe(func(context.Context, rules.Event) error {
		var seen map[string]bool
		seen["event"] = true
		return nil
	})
	startGame(t, g)
	assert.Equal(t, scheduler.StateIdle, g.Scheduler().State())
	assert.Equal(t, 1, g.Turn())
}
