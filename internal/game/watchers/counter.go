package watchers

import (
	"maps"
	"sync"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// KeyFunc picks the id an event is counted against. An empty id skips
// the event.
type KeyFunc func(event rules.Event) string

// ByPlayer counts against the acting or affected player.
func ByPlayer(event rules.Event) string { return event.PlayerID }

// BySource counts against the entity that caused the event.
func BySource(event rules.Event) string { return event.SourceID }

// ByTarget counts against the entity the event happened to.
func ByTarget(event rules.Event) string { return event.TargetID }

// Counter tallies events of one type per id. By default each event
// counts one; a counter built with NewAmountCounter adds the event amount.
type Counter struct {
	Base

	mu        sync.Mutex
	eventType rules.EventType
	by        KeyFunc
	amount    bool
	counts    map[string]int
}

// NewEventCounter counts occurrences of eventType per id.
func NewEventCounter(key string, scope Scope, eventType rules.EventType, by KeyFunc) *Counter {
	return &Counter{
		Base:      NewBase(key, scope),
		eventType: eventType,
		by:        by,
		counts:    make(map[string]int),
	}
}

// NewAmountCounter sums the amounts of eventType per id.
func NewAmountCounter(key string, scope Scope, eventType rules.EventType, by KeyFunc) *Counter {
	c := NewEventCounter(key, scope, eventType, by)
	c.amount = true
	return c
}

// Watch implements Watcher.
func (c *Counter) Watch(event rules.Event) {
	if event.Type != c.eventType {
		return
	}
	id := c.by(event)
	if id == "" {
		return
	}
	n := 1
	if c.amount {
		n = event.Amount
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[id] += n
	c.SetCondition(true)
}

// Reset clears every count.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Base.Reset()
	c.counts = make(map[string]int)
}

// Count returns the tally for id.
func (c *Counter) Count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

// Counts returns a copy of every tally.
func (c *Counter) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.counts)
}

// Serialize implements Watcher.
func (c *Counter) Serialize() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.counts))
	for id, n := range c.counts {
		out[id] = n
	}
	return out
}
