// Package snapshot captures the serialized state of a game after each
// queue drain, diffs snapshots and builds per-viewer redacted views.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// DefaultRetention is the number of snapshots kept when no retention is configured.
const DefaultRetention = 64

// recorderPriority makes the event recorder observe events in sequence order.
const recorderPriority = math.MaxInt32

// ErrUnknownSnapshot is returned for ids that were never taken or were evicted.
var ErrUnknownSnapshot = errors.New("unknown snapshot")

// Kind records why a snapshot was taken.
type Kind string

const (
	KindFlush    Kind = "flush"
	KindRecovery Kind = "recovery"
	KindError    Kind = "error"
	KindManual   Kind = "manual"
)

// Snapshot is an immutable capture of every live entity.
type Snapshot struct {
	ID          uint64           `json:"id"`
	Kind        Kind             `json:"kind"`
	State       State            `json:"state"`
	Events      []map[string]any `json:"events"`
	Diagnostics map[string]any   `json:"diagnostics,omitempty"`
	Checksum    string           `json:"checksum"`
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.State = s.State.Clone()
	out.Events = make([]map[string]any, len(s.Events))
	for i, e := range s.Events {
		out.Events[i] = cloneFields(e)
	}
	out.Diagnostics = cloneFields(s.Diagnostics)
	return &out
}

// EntitySource serializes every live entity. Field values must be
// JSON-compatible.
type EntitySource interface {
	SerializeEntities() State
}

// Revealer reports which entities an event makes public.
type Revealer interface {
	Reveals(event rules.Event) []string
}

// Redactor decides what a viewer may see of one entity. revealed reports
// whether an event since the last redaction boundary made the entity
// public. Returning false hides the entity entirely.
type Redactor interface {
	Redact(viewer, entityID string, fields map[string]any, revealed bool) (map[string]any, bool)
}

// EventRedactor is optionally implemented by a Redactor to filter the
// event log shown to a viewer.
type EventRedactor interface {
	RedactEvent(viewer string, event map[string]any) (map[string]any, bool)
}

// Option configures a Producer.
type Option func(*Producer)

// WithBus records every event published on bus into the next snapshot.
func WithBus(bus *rules.EventBus) Option {
	return func(p *Producer) { p.bus = bus }
}

// WithRetention keeps at most n snapshots. The latest is always kept.
func WithRetention(n int) Option {
	return func(p *Producer) { p.retention = n }
}

// WithRedactor sets the per-viewer redaction policy.
func WithRedactor(r Redactor) Option {
	return func(p *Producer) { p.redactor = r }
}

// WithRevealer sets the policy deciding which events reveal hidden entities.
func WithRevealer(r Revealer) Option {
	return func(p *Producer) { p.revealer = r }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Producer) { p.logger = logger }
}

// Producer captures snapshots of an EntitySource.
type Producer struct {
	mu        sync.Mutex
	source    EntitySource
	bus       *rules.EventBus
	handle    rules.Handle
	redactor  Redactor
	revealer  Revealer
	logger    *zap.Logger
	retention int

	nextID    uint64
	snapshots []*Snapshot
	pending   []map[string]any
	revealed  map[string]bool
}

// NewProducer constructs a producer and subscribes its event recorder.
func NewProducer(source EntitySource, opts ...Option) *Producer {
	p := &Producer{
		source:    source,
		retention: DefaultRetention,
		revealed:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.bus != nil {
		p.handle = p.bus.Subscribe(recorderPriority, p.record)
	}
	return p
}

// Close unsubscribes the event recorder.
func (p *Producer) Close() {
	if p.bus != nil && p.handle != 0 {
		p.bus.Unsubscribe(p.handle)
		p.handle = 0
	}
}

func (p *Producer) record(_ context.Context, event rules.Event) error {
	serialized, err := Normalize(event.Serialize())
	if err != nil {
		return fmt.Errorf("record %s: %w", event.Type, err)
	}
	var revealed []string
	if p.revealer != nil {
		revealed = p.revealer.Reveals(event)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, serialized.(map[string]any))
	for _, id := range revealed {
		p.revealed[id] = true
	}
	return nil
}

// TakeSnapshot captures the current state together with the events
// recorded since the previous snapshot.
func (p *Producer) TakeSnapshot(kind Kind, diagnostics map[string]any) (*Snapshot, error) {
	normalized, err := Normalize(p.source.SerializeEntities())
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	state := make(State)
	if m, ok := normalized.(map[string]any); ok {
		for id, fields := range m {
			entity, ok := fields.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("snapshot state: entity %s is %T, not an object", id, fields)
			}
			state[id] = entity
		}
	}

	var diag map[string]any
	if diagnostics != nil {
		d, err := Normalize(diagnostics)
		if err != nil {
			return nil, fmt.Errorf("snapshot diagnostics: %w", err)
		}
		diag = d.(map[string]any)
	}

	checksum, err := Checksum(state)
	if err != nil {
		return nil, fmt.Errorf("snapshot checksum: %w", err)
	}

	p.mu.Lock()
	p.nextID++
	snap := &Snapshot{
		ID:          p.nextID,
		Kind:        kind,
		State:       state,
		Events:      p.pending,
		Diagnostics: diag,
		Checksum:    checksum,
	}
	if snap.Events == nil {
		snap.Events = []map[string]any{}
	}
	p.pending = nil
	p.snapshots = append(p.snapshots, snap)
	if p.retention > 0 && len(p.snapshots) > p.retention {
		p.snapshots = slices.Clone(p.snapshots[len(p.snapshots)-p.retention:])
	}
	p.mu.Unlock()

	p.logger.Debug("snapshot taken",
		zap.Uint64("snapshot_id", snap.ID),
		zap.String("kind", string(kind)),
		zap.Int("entities", len(state)),
		zap.Int("events", len(snap.Events)),
		zap.String("checksum", checksum),
	)
	return snap.clone(), nil
}

// Latest returns the most recent snapshot.
func (p *Producer) Latest() (*Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snapshots) == 0 {
		return nil, false
	}
	return p.snapshots[len(p.snapshots)-1].clone(), true
}

// Get returns the snapshot with the given id if it is still retained.
func (p *Producer) Get(id uint64) (*Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.find(id)
	if snap == nil {
		return nil, false
	}
	return snap.clone(), true
}

// List returns the retained snapshots, oldest first.
func (p *Producer) List() []*Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Snapshot, len(p.snapshots))
	for i, snap := range p.snapshots {
		out[i] = snap.clone()
	}
	return out
}

func (p *Producer) find(id uint64) *Snapshot {
	idx, ok := slices.BinarySearchFunc(p.snapshots, id, func(s *Snapshot, target uint64) int {
		switch {
		case s.ID < target:
			return -1
		case s.ID > target:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return nil
	}
	return p.snapshots[idx]
}

// Diff computes the difference from snapshot a to snapshot b. The diff
// carries b's events.
func (p *Producer) Diff(a, b uint64) (*Diff, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.find(a)
	if from == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSnapshot, a)
	}
	to := p.find(b)
	if to == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSnapshot, b)
	}
	d := DiffStates(from.State, to.State)
	d.From, d.To = a, b
	for _, e := range to.Events {
		d.Events = append(d.Events, cloneFields(e))
	}
	return d, nil
}

// MarkRedactionBoundary forgets every reveal recorded so far.
func (p *Producer) MarkRedactionBoundary() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revealed = make(map[string]bool)
}

// Revealed returns the ids revealed since the last boundary, sorted.
func (p *Producer) Revealed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.revealed))
}

// BuildForViewer returns the latest snapshot as viewer may see it.
func (p *Producer) BuildForViewer(viewer string) (*Snapshot, error) {
	p.mu.Lock()
	if len(p.snapshots) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: no snapshot taken yet", ErrUnknownSnapshot)
	}
	snap := p.snapshots[len(p.snapshots)-1].clone()
	revealed := maps.Clone(p.revealed)
	p.mu.Unlock()

	if p.redactor == nil {
		return snap, nil
	}

	state := make(State, len(snap.State))
	for _, id := range snap.State.IDs() {
		fields, keep := p.redactor.Redact(viewer, id, snap.State[id], revealed[id])
		if keep {
			state[id] = fields
		}
	}
	snap.State = state

	if er, ok := p.redactor.(EventRedactor); ok {
		events := make([]map[string]any, 0, len(snap.Events))
		for _, e := range snap.Events {
			if redacted, keep := er.RedactEvent(viewer, e); keep {
				events = append(events, redacted)
			}
		}
		snap.Events = events
	}

	checksum, err := Checksum(state)
	if err != nil {
		return nil, fmt.Errorf("viewer checksum: %w", err)
	}
	snap.Checksum = checksum
	return snap, nil
}
