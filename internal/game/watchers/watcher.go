// Package watchers tracks what happened during a game so rules and tools
// can ask questions like "how many units did p1 play this turn".
package watchers

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// Scope decides when a watcher forgets what it saw.
type Scope int

const (
	// ScopeGame watchers keep their state for the whole game.
	ScopeGame Scope = iota
	// ScopePlayerTurn watchers reset whenever a player turn starts.
	ScopePlayerTurn
	// ScopeTurn watchers reset whenever a game turn starts.
	ScopeTurn
)

// String returns the string representation of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeGame:
		return "GAME"
	case ScopePlayerTurn:
		return "PLAYER_TURN"
	case ScopeTurn:
		return "TURN"
	default:
		return "UNKNOWN"
	}
}

// Watcher observes every published event.
type Watcher interface {
	// Watch is called for every event, in publish order.
	Watch(event rules.Event)

	// Reset clears the tracked state.
	Reset()

	// ConditionMet reports whether the watcher saw anything since the last reset.
	ConditionMet() bool

	Scope() Scope

	// Key identifies the watcher in its registry.
	Key() string

	// Serialize renders the tracked state as a JSON-compatible value.
	Serialize() any
}

// Base provides the scope, key and condition bookkeeping of a watcher.
type Base struct {
	scope     Scope
	key       string
	condition bool
}

// NewBase creates the shared part of a watcher.
func NewBase(key string, scope Scope) Base {
	return Base{key: key, scope: scope}
}

func (b *Base) Scope() Scope { return b.scope }

func (b *Base) Key() string { return b.key }

func (b *Base) ConditionMet() bool { return b.condition }

// SetCondition sets the condition flag.
func (b *Base) SetCondition(condition bool) {
	b.condition = condition
}

// Reset clears the condition.
func (b *Base) Reset() {
	b.condition = false
}

// Priority is the bus priority watchers observe events at: after the
// snapshot recorder, before every rule listener.
const Priority = math.MaxInt32 - 1

// Registry owns the watchers of one game and feeds them from its bus.
type Registry struct {
	mu       sync.RWMutex
	watchers map[string]Watcher
	order    []string

	bus    *rules.EventBus
	handle rules.Handle
}

// NewRegistry creates an empty registry. Call Attach to start watching.
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]Watcher)}
}

// Attach subscribes the registry to every event on bus.
func (r *Registry) Attach(bus *rules.EventBus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus != nil {
		r.bus.Unsubscribe(r.handle)
	}
	r.bus = bus
	r.handle = bus.Subscribe(Priority, func(_ context.Context, event rules.Event) error {
		r.Notify(event)
		return nil
	})
}

// Close stops watching the attached bus.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus != nil {
		r.bus.Unsubscribe(r.handle)
		r.bus = nil
	}
}

// Add registers watcher, replacing any watcher with the same key.
func (r *Registry) Add(watcher Watcher) {
	if watcher == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := watcher.Key()
	if _, exists := r.watchers[key]; !exists {
		r.order = append(r.order, key)
	}
	r.watchers[key] = watcher
}

// Remove unregisters the watcher with key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watchers[key]; !ok {
		return
	}
	delete(r.watchers, key)
	r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == key })
}

// Get returns the watcher registered under key.
func (r *Registry) Get(key string) (Watcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watchers[key]
	return w, ok
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// ResetScope resets every watcher of scope.
func (r *Registry) ResetScope(scope Scope) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		if w := r.watchers[key]; w.Scope() == scope {
			w.Reset()
		}
	}
}

// Notify resets the watchers whose scope ends with event, then lets every
// watcher see it.
func (r *Registry) Notify(event rules.Event) {
	switch event.Type {
	case rules.EventPlayerTurnStarted:
		r.ResetScope(ScopePlayerTurn)
	case rules.EventTurnStarted:
		r.ResetScope(ScopeTurn)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		r.watchers[key].Watch(event)
	}
}

// Serialize renders every watcher's state keyed by watcher key.
func (r *Registry) Serialize() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.watchers))
	for key, w := range r.watchers {
		out[key] = w.Serialize()
	}
	return out
}
