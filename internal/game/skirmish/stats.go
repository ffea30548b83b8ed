package skirmish

import (
	"github.com/magefree/tactics-server-go/internal/game/watchers"
)

// Watcher keys registered on every game.
const (
	StatUnitsPlayed    = "units_played"
	StatCardsDrawn     = "cards_drawn"
	StatUnitsDestroyed = "units_destroyed"
	StatDamageDealt    = "damage_dealt"
)

func (g *Game) registerWatchers() {
	g.watchers = watchers.NewRegistry()
	g.watchers.Add(watchers.NewEventCounter(StatUnitsPlayed, watchers.ScopePlayerTurn, EventUnitPlayed, watchers.ByPlayer))
	g.watchers.Add(watchers.NewEventCounter(StatCardsDrawn, watchers.ScopePlayerTurn, EventCardDrawn, watchers.ByPlayer))
	// destroyed units count against their owner
	g.watchers.Add(watchers.NewEventCounter(StatUnitsDestroyed, watchers.ScopeGame, EventUnitDestroyed, watchers.ByPlayer))
	g.watchers.Add(watchers.NewAmountCounter(StatDamageDealt, watchers.ScopeGame, EventUnitDamaged, watchers.BySource))
	g.watchers.Attach(g.bus)
}

// Stat returns the tally of the watcher registered under key for id.
func (g *Game) Stat(key, id string) int {
	w, ok := g.watchers.Get(key)
	if !ok {
		return 0
	}
	c, ok := w.(*watchers.Counter)
	if !ok {
		return 0
	}
	return c.Count(id)
}

// Watchers returns the game's watcher registry.
func (g *Game) Watchers() *watchers.Registry { return g.watchers }
