// Package skirmish is a small two-seat tactics game built on the rules
// core. It owns the entity arena the core operates on: players, units,
// turn order and the seeded random stream.
package skirmish

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/modifiers"
	"github.com/magefree/tactics-server-go/internal/game/random"
	"github.com/magefree/tactics-server-go/internal/game/rules"
	"github.com/magefree/tactics-server-go/internal/game/scheduler"
	"github.com/magefree/tactics-server-go/internal/game/snapshot"
	"github.com/magefree/tactics-server-go/internal/game/watchers"
)

// Game limits.
const (
	MaxMana         = 10
	HandLimit       = 10
	DiscoverOptions = 3
	ApplyCost       = 1
	HealCost        = 1
	DiscoverCost    = 1

	baseIncome = 1
)

// GameEntityID addresses the game-wide entity in snapshots.
const GameEntityID = "game"

//go:embed catalog.yaml
var defaultCatalog []byte

var unitNames = []string{"Footman", "Archer", "Knight", "Squire", "Pikeman", "Scout", "Cleric", "Ranger"}

// Setup is the part of Options that determines the game. Two games built
// from the same Setup and fed the same history end in the same state.
type Setup struct {
	GameID      string   `json:"game_id"`
	Seed        uint64   `json:"seed"`
	Players     []string `json:"players"`
	DeckSize    int      `json:"deck_size"`
	HandSize    int      `json:"hand_size"`
	FirstPlayer string   `json:"first_player,omitempty"`
}

// Options configures a Game.
type Options struct {
	Setup

	// Catalog replaces the embedded modifier catalog.
	Catalog      []byte
	MaxSteps     int
	Retention    int
	ObserverMode rules.DispatchMode
	Logger       *zap.Logger
	Tracer       trace.Tracer
}

// DefaultSetup returns a two-player setup for seed.
func DefaultSetup(seed uint64) Setup {
	return Setup{
		Seed:     seed,
		Players:  []string{"p1", "p2"},
		DeckSize: 20,
		HandSize: 3,
	}
}

func (s Setup) validate() error {
	if len(s.Players) < 2 {
		return fmt.Errorf("skirmish needs at least two players, got %d", len(s.Players))
	}
	seen := make(map[string]bool, len(s.Players))
	for _, id := range s.Players {
		if id == "" || id == GameEntityID {
			return fmt.Errorf("invalid player id %q", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate player id %q", id)
		}
		seen[id] = true
	}
	if s.FirstPlayer != "" && !seen[s.FirstPlayer] {
		return fmt.Errorf("first player %q is not seated", s.FirstPlayer)
	}
	if s.DeckSize < 0 || s.HandSize < 0 {
		return fmt.Errorf("deck and hand sizes must not be negative")
	}
	return nil
}

// Game is one skirmish instance.
type Game struct {
	setup     Setup
	logger    *zap.Logger
	rng       *random.Seeded
	bus       *rules.EventBus
	observers *rules.EventBus
	env       *modifiers.Env
	catalog   *modifiers.Catalog
	sched     *scheduler.Scheduler
	snaps     *snapshot.Producer
	watchers  *watchers.Registry

	players   []*Player
	units     map[string]*Unit
	unitOrder []string
	spawned   map[string]int

	started     bool
	turn        int
	first       int
	active      int
	discovering *discovery
	modSeq      uint64
}

type discovery struct {
	player  string
	options []string
}

// New builds a game and deals the decks. Nothing is drawn until the
// game.start action runs.
func New(opts Options) (*Game, error) {
	if err := opts.Setup.validate(); err != nil {
		return nil, err
	}
	if opts.GameID == "" {
		opts.GameID = uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "skirmish|%d", opts.Seed)).String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Game{
		setup:     opts.Setup,
		logger:    logger.With(zap.String("game_id", opts.GameID)),
		rng:       random.New(opts.Seed),
		bus:       rules.NewEventBus(),
		observers: rules.NewEventBus(rules.WithDispatchMode(opts.ObserverMode)),
		units:     make(map[string]*Unit),
		spawned:   make(map[string]int),
	}
	g.env = &modifiers.Env{
		Bus:    g.bus,
		World:  g,
		Logger: g.logger,
		IDs:    modifiers.IDFunc(g.nextModifierID),
	}

	catalogData := opts.Catalog
	if catalogData == nil {
		catalogData = defaultCatalog
	}
	catalog, err := modifiers.ParseCatalog(catalogData, g.registry())
	if err != nil {
		return nil, err
	}
	g.catalog = catalog

	retention := opts.Retention
	if retention == 0 {
		retention = snapshot.DefaultRetention
	}
	g.snaps = snapshot.NewProducer(g,
		snapshot.WithBus(g.bus),
		snapshot.WithRetention(retention),
		snapshot.WithRedactor(g),
		snapshot.WithRevealer(g),
		snapshot.WithLogger(g.logger),
	)
	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithBus(g.bus),
		scheduler.WithSnapshots(g.snaps),
		scheduler.WithMaxSteps(opts.MaxSteps),
		scheduler.WithGameID(opts.GameID),
	}
	if opts.Tracer != nil {
		schedOpts = append(schedOpts, scheduler.WithTracer(opts.Tracer))
	}
	g.sched = scheduler.New(schedOpts...)
	g.registerActions()
	g.registerWatchers()

	// observers see every event after all rule listeners
	g.bus.Subscribe(math.MinInt32, g.forward)

	for _, id := range opts.Players {
		g.players = append(g.players, newPlayer(g.env, id))
	}
	for _, p := range g.players {
		for i := 0; i < opts.DeckSize; i++ {
			name, stats := g.randomUnit()
			u := g.spawn(p.id, name, stats)
			p.deck = append(p.deck, u.id)
		}
		random.Shuffle(g.rng, p.deck)
	}

	g.logger.Info("skirmish created",
		zap.Uint64("seed", opts.Seed),
		zap.Strings("players", opts.Players),
		zap.Int("deck_size", opts.DeckSize),
	)
	return g, nil
}

// Replay rebuilds a game from its setup and recorded history.
func Replay(ctx context.Context, opts Options, history []scheduler.Action) (*Game, error) {
	g, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := g.sched.ApplyHistory(ctx, history); err != nil {
		return g, err
	}
	return g, nil
}

func (g *Game) randomUnit() (string, Stats) {
	name := unitNames[g.rng.NextInt(int32(len(unitNames)))]
	cost := 1 + int(g.rng.NextInt(5))
	return name, Stats{
		Cost:   cost,
		Attack: max(1, cost+int(g.rng.NextInt(3))-1),
		Health: max(1, cost+int(g.rng.NextInt(3))-1),
	}
}

func (g *Game) spawn(owner string, name string, base Stats) *Unit {
	g.spawned[owner]++
	id := fmt.Sprintf("%s.u%02d", owner, g.spawned[owner])
	u := newUnit(g.env, id, name, owner, base)
	g.units[id] = u
	g.unitOrder = append(g.unitOrder, id)
	return u
}

func (g *Game) nextModifierID(string) string {
	g.modSeq++
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s|%d", g.setup.GameID, g.modSeq)).String()
}

func (g *Game) forward(ctx context.Context, event rules.Event) error {
	if g.observers.Len() == 0 {
		return nil
	}
	if err := g.observers.Publish(ctx, event); err != nil {
		g.logger.Warn("event observer failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
	return nil
}

// Observe subscribes an outside observer to every game event. Observers
// run after rule listeners, must not mutate the game and cannot fail it.
func (g *Game) Observe(handler rules.Handler) rules.Handle {
	return g.observers.Subscribe(0, handler)
}

// Close releases the scheduler, the snapshot recorder and the watchers.
func (g *Game) Close() {
	g.watchers.Close()
	g.sched.Close()
	g.snaps.Close()
}

func (g *Game) ID() string { return g.setup.GameID }

// Setup returns the setup the game was built from.
func (g *Game) Setup() Setup { return g.setup }

func (g *Game) Scheduler() *scheduler.Scheduler { return g.sched }

func (g *Game) Snapshots() *snapshot.Producer { return g.snaps }

func (g *Game) Bus() *rules.EventBus { return g.bus }

func (g *Game) Catalog() *modifiers.Catalog { return g.catalog }

// Turn returns the game turn, starting at 1 once the game has started.
func (g *Game) Turn() int { return g.turn }

func (g *Game) Started() bool { return g.started }

// RandomDraws returns how many values the game has drawn from its seed.
func (g *Game) RandomDraws() uint64 { return g.rng.Draws() }

// Player looks up a seated player.
func (g *Game) Player(id string) (*Player, bool) {
	p := g.player(id)
	return p, p != nil
}

// Unit looks up a unit in any zone.
func (g *Game) Unit(id string) (*Unit, bool) {
	u, ok := g.units[id]
	return u, ok
}

// Players returns the seated players in seat order.
func (g *Game) Players() []*Player {
	return slices.Clone(g.players)
}

// Discovering returns the player and options of a pending card.discover.
func (g *Game) Discovering() (string, []string, bool) {
	if g.discovering == nil {
		return "", nil, false
	}
	return g.discovering.player, slices.Clone(g.discovering.options), true
}

// Active returns the player whose turn it is.
func (g *Game) Active() *Player {
	return g.players[g.active]
}

// Units returns every unit in creation order.
func (g *Game) Units() []*Unit {
	out := make([]*Unit, len(g.unitOrder))
	for i, id := range g.unitOrder {
		out[i] = g.units[id]
	}
	return out
}

// Board returns the units owner has on the board, in creation order.
func (g *Game) Board(owner string) []*Unit {
	var out []*Unit
	for _, id := range g.unitOrder {
		if u := g.units[id]; u.owner == owner && u.zone == ZoneBoard {
			out = append(out, u)
		}
	}
	return out
}

// Opponents returns every seated player except id.
func (g *Game) Opponents(id string) []*Player {
	var out []*Player
	for _, p := range g.players {
		if p.id != id {
			out = append(out, p)
		}
	}
	return out
}

func (g *Game) player(id string) *Player {
	for _, p := range g.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

// Target implements modifiers.World.
func (g *Game) Target(id string) (modifiers.Target, bool) {
	if p := g.player(id); p != nil {
		return p, true
	}
	if u, ok := g.units[id]; ok {
		return u, true
	}
	return nil, false
}

// Targets implements modifiers.World: players in seat order, then units
// in creation order.
func (g *Game) Targets() []modifiers.Target {
	out := make([]modifiers.Target, 0, len(g.players)+len(g.unitOrder))
	for _, p := range g.players {
		out = append(out, p)
	}
	for _, id := range g.unitOrder {
		out = append(out, g.units[id])
	}
	return out
}

// SerializeEntities implements snapshot.EntitySource.
func (g *Game) SerializeEntities() snapshot.State {
	state := make(snapshot.State, len(g.players)+len(g.units)+1)
	meta := map[string]any{
		"kind":      "game",
		"started":   g.started,
		"turn":      g.turn,
		"rng_draws": g.rng.Draws(),
	}
	if g.started {
		meta["active"] = g.Active().id
	}
	if g.discovering != nil {
		meta["discovering"] = g.discovering.player
	}
	meta["stats"] = g.watchers.Serialize()
	state[GameEntityID] = meta
	for _, p := range g.players {
		state[p.id] = p.serialize()
	}
	for _, id := range g.unitOrder {
		state[id] = g.units[id].serialize()
	}
	return state
}

// Dispatch submits an action built from actionType and payload.
func (g *Game) Dispatch(ctx context.Context, actionType string, payload any) error {
	action, err := scheduler.NewAction(actionType, payload)
	if err != nil {
		return err
	}
	return g.sched.Dispatch(ctx, action)
}

// Start deals opening hands and begins the first turn.
func (g *Game) Start(ctx context.Context) error {
	return g.Dispatch(ctx, ActionStart, nil)
}

// Checksum returns the checksum of the latest snapshot.
func (g *Game) Checksum() (string, error) {
	snap, ok := g.snaps.Latest()
	if !ok {
		return "", errors.New("no snapshot taken yet")
	}
	return snap.Checksum, nil
}
