package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrListenerPanic marks a listener that panicked on a parallel dispatch
// goroutine. The panic is corrupted state, never a rule violation.
var ErrListenerPanic = errors.New("listener panicked")

// EventType indicates the category of a rules event.
type EventType string

const (
	// EventAny names the wildcard listener list. It is never published.
	EventAny EventType = "*"

	// Turn boundary events
	EventTurnStarted       EventType = "TURN_STARTED"
	EventTurnEnded         EventType = "TURN_ENDED"
	EventPlayerTurnStarted EventType = "PLAYER_TURN_STARTED"
	EventPlayerTurnEnded   EventType = "PLAYER_TURN_ENDED"

	// Modifier lifecycle events
	EventModifierApplied EventType = "MODIFIER_APPLIED"
	EventModifierStacked EventType = "MODIFIER_STACKED"
	EventModifierRemoved EventType = "MODIFIER_REMOVED"

	// Scheduler events
	EventChoiceRequested EventType = "CHOICE_REQUESTED"
	EventChoiceResolved  EventType = "CHOICE_RESOLVED"
	EventQueueFlushed    EventType = "QUEUE_FLUSHED"
)

// Payload is a domain-defined event body. Serialize must return a
// JSON-compatible value so the event can be logged, diffed and replayed.
type Payload interface {
	Serialize() map[string]any
}

// Event represents a state change that other subsystems may react to.
// Seq is assigned by the bus when the event is published.
type Event struct {
	Type     EventType
	Seq      uint64
	SourceID string
	TargetID string
	PlayerID string
	Amount   int
	Metadata map[string]string
	Payload  Payload
}

// Serialize renders the event as a JSON-compatible map.
func (e Event) Serialize() map[string]any {
	out := map[string]any{
		"type": string(e.Type),
		"seq":  e.Seq,
	}
	if e.SourceID != "" {
		out["source_id"] = e.SourceID
	}
	if e.TargetID != "" {
		out["target_id"] = e.TargetID
	}
	if e.PlayerID != "" {
		out["player_id"] = e.PlayerID
	}
	if e.Amount != 0 {
		out["amount"] = e.Amount
	}
	if len(e.Metadata) > 0 {
		meta := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		out["metadata"] = meta
	}
	if e.Payload != nil {
		out["payload"] = e.Payload.Serialize()
	}
	return out
}

// NewEvent creates a new event with common fields populated.
func NewEvent(eventType EventType, targetID, sourceID, playerID string) Event {
	return Event{
		Type:     eventType,
		TargetID: targetID,
		SourceID: sourceID,
		PlayerID: playerID,
		Metadata: make(map[string]string),
	}
}

// NewEventWithAmount creates a new event with an amount value.
func NewEventWithAmount(eventType EventType, targetID, sourceID, playerID string, amount int) Event {
	evt := NewEvent(eventType, targetID, sourceID, playerID)
	evt.Amount = amount
	return evt
}

// Handler reacts to a published event. Handlers may block, for example
// while the action that published the event waits for a player choice.
type Handler func(ctx context.Context, event Event) error

// Handle identifies exactly one subscription. The zero value is never issued.
type Handle uint64

// DispatchMode selects how a single Publish invokes its listeners.
type DispatchMode int

const (
	// DispatchSequential awaits each listener before invoking the next one.
	DispatchSequential DispatchMode = iota
	// DispatchParallel runs every listener concurrently and waits for all of them.
	DispatchParallel
)

func (m DispatchMode) String() string {
	switch m {
	case DispatchSequential:
		return "sequential"
	case DispatchParallel:
		return "parallel"
	default:
		return fmt.Sprintf("DispatchMode(%d)", int(m))
	}
}

// ParseDispatchMode converts a configuration string into a DispatchMode.
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch s {
	case "", "sequential":
		return DispatchSequential, nil
	case "parallel":
		return DispatchParallel, nil
	default:
		return DispatchSequential, fmt.Errorf("unknown dispatch mode %q", s)
	}
}

type listener struct {
	handle    Handle
	eventType EventType
	priority  int
	callback  Handler
	once      bool
	fired     atomic.Bool
	removed   atomic.Bool
}

// EventBus provides prioritized publish/subscribe with wildcard listeners.
//
// Listeners are kept sorted by descending priority; equal priorities keep
// subscription order. Publish merges the named and wildcard lists so both
// observe one priority order. On a tie between a named and a wildcard
// listener the named listener runs first.
type EventBus struct {
	mu         sync.RWMutex
	mode       DispatchMode
	typed      map[EventType][]*listener
	wildcard   []*listener
	index      map[Handle]*listener
	nextHandle Handle
	seq        uint64
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithDispatchMode selects sequential or parallel dispatch for the bus.
func WithDispatchMode(mode DispatchMode) Option {
	return func(bus *EventBus) {
		bus.mode = mode
	}
}

// NewEventBus constructs a fresh event bus instance.
func NewEventBus(opts ...Option) *EventBus {
	bus := &EventBus{
		typed: make(map[EventType][]*listener),
		index: make(map[Handle]*listener),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Mode reports the bus dispatch mode.
func (bus *EventBus) Mode() DispatchMode {
	return bus.mode
}

// Subscribe registers a wildcard listener that receives every event.
func (bus *EventBus) Subscribe(priority int, callback Handler) Handle {
	return bus.add(EventAny, priority, callback, false)
}

// SubscribeTyped registers a listener for a specific event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, priority int, callback Handler) Handle {
	return bus.add(eventType, priority, callback, false)
}

// SubscribeOnce registers a listener that removes itself after its first
// successful invocation.
func (bus *EventBus) SubscribeOnce(eventType EventType, priority int, callback Handler) Handle {
	return bus.add(eventType, priority, callback, true)
}

func (bus *EventBus) add(eventType EventType, priority int, callback Handler, once bool) Handle {
	if callback == nil {
		return 0
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.nextHandle++
	l := &listener{
		handle:    bus.nextHandle,
		eventType: eventType,
		priority:  priority,
		callback:  callback,
		once:      once,
	}
	bus.index[l.handle] = l
	if eventType == EventAny {
		bus.wildcard = insertByPriority(bus.wildcard, l)
	} else {
		bus.typed[eventType] = insertByPriority(bus.typed[eventType], l)
	}
	return l.handle
}

// insertByPriority places l after every listener with priority >= l.priority.
func insertByPriority(list []*listener, l *listener) []*listener {
	idx := len(list)
	for i, existing := range list {
		if existing.priority < l.priority {
			idx = i
			break
		}
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = l
	return list
}

// Unsubscribe removes the listener identified by the provided handle.
// It reports whether a listener was removed.
func (bus *EventBus) Unsubscribe(handle Handle) bool {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	l, ok := bus.index[handle]
	if !ok {
		return false
	}
	delete(bus.index, handle)
	l.removed.Store(true)

	if l.eventType == EventAny {
		bus.wildcard = removeListener(bus.wildcard, handle)
		return true
	}
	remaining := removeListener(bus.typed[l.eventType], handle)
	if len(remaining) == 0 {
		delete(bus.typed, l.eventType)
	} else {
		bus.typed[l.eventType] = remaining
	}
	return true
}

func removeListener(list []*listener, handle Handle) []*listener {
	for i, l := range list {
		if l.handle == handle {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// ListenerCount returns the number of listeners subscribed to eventType.
// EventAny returns the wildcard count.
func (bus *EventBus) ListenerCount(eventType EventType) int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	if eventType == EventAny {
		return len(bus.wildcard)
	}
	return len(bus.typed[eventType])
}

// WildcardCount returns the number of wildcard listeners.
func (bus *EventBus) WildcardCount() int {
	return bus.ListenerCount(EventAny)
}

// Len returns the total number of live subscriptions.
func (bus *EventBus) Len() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.index)
}

// LastSeq returns the sequence number of the most recently published event.
func (bus *EventBus) LastSeq() uint64 {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return bus.seq
}

// Publish assigns the next sequence number to the event and delivers it to
// the named listeners and the wildcard listeners in merged priority order.
//
// In sequential mode a failing listener aborts the remaining dispatch and
// its error is returned. In parallel mode every listener is started and
// the first error is returned after all of them finish; a panicking
// listener is reported as ErrListenerPanic.
func (bus *EventBus) Publish(ctx context.Context, event Event) error {
	bus.mu.Lock()
	bus.seq++
	event.Seq = bus.seq
	ordered := mergeByPriority(bus.typed[event.Type], bus.wildcard)
	mode := bus.mode
	bus.mu.Unlock()

	if len(ordered) == 0 {
		return nil
	}

	if mode == DispatchParallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, l := range ordered {
			g.Go(func() (err error) {
				// a panic here would escape every caller's recover
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("%s listener %d: %w: %v", event.Type, l.handle, ErrListenerPanic, r)
					}
				}()
				return bus.invoke(gctx, l, event)
			})
		}
		return g.Wait()
	}

	for _, l := range ordered {
		if err := bus.invoke(ctx, l, event); err != nil {
			return err
		}
	}
	return nil
}

// PublishBatch publishes multiple events in order, stopping at the first error.
func (bus *EventBus) PublishBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := bus.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (bus *EventBus) invoke(ctx context.Context, l *listener, event Event) error {
	if l.removed.Load() {
		return nil
	}
	if l.once && !l.fired.CompareAndSwap(false, true) {
		return nil
	}
	if err := l.callback(ctx, event); err != nil {
		if l.once {
			l.fired.Store(false)
		}
		return fmt.Errorf("%s listener %d: %w", event.Type, l.handle, err)
	}
	if l.once {
		bus.Unsubscribe(l.handle)
	}
	return nil
}

// mergeByPriority walks two priority-sorted lists and returns a new slice
// holding both in descending priority. Named listeners win ties.
func mergeByPriority(named, wildcard []*listener) []*listener {
	out := make([]*listener, 0, len(named)+len(wildcard))
	i, j := 0, 0
	for i < len(named) && j < len(wildcard) {
		if wildcard[j].priority > named[i].priority {
			out = append(out, wildcard[j])
			j++
			continue
		}
		out = append(out, named[i])
		i++
	}
	out = append(out, named[i:]...)
	out = append(out, wildcard[j:]...)
	return out
}
