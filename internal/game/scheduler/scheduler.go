// Package scheduler serializes every state-mutating action of one game
// into a single logical thread of execution. Actions may pause to await an
// external choice; the recorded history replays deterministically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/rules"
	"github.com/magefree/tactics-server-go/internal/game/snapshot"
)

const tracerName = "github.com/magefree/tactics-server-go/internal/game/scheduler"

// State is the scheduler's execution state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshotter captures game state when the scheduler settles.
type Snapshotter interface {
	TakeSnapshot(kind snapshot.Kind, diagnostics map[string]any) (*snapshot.Snapshot, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithBus sets the bus that receives scheduler events.
func WithBus(bus *rules.EventBus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithSnapshots sets the producer used for flush, recovery and error snapshots.
func WithSnapshots(snapshots Snapshotter) Option {
	return func(s *Scheduler) { s.snapshots = snapshots }
}

// WithMaxSteps limits how many actions one flush may run. Zero disables the limit.
func WithMaxSteps(limit int) Option {
	return func(s *Scheduler) { s.maxSteps = limit }
}

// WithTracer overrides the tracer used for action spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = tracer }
}

// WithGameID tags logs and spans with the game identifier.
func WithGameID(gameID string) Option {
	return func(s *Scheduler) { s.gameID = gameID }
}

type queued struct {
	action   Action
	topLevel bool
}

// pendingChoice is the continuation of a paused action.
type pendingChoice struct {
	kind   ChoiceKind
	result chan Choice
}

// phase spans from leaving Idle or Paused until the scheduler settles again.
type phase struct {
	done chan struct{}
	err  error
}

func (p *phase) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler runs actions one at a time on a drain goroutine.
//
// Dispatch from Idle starts a drain and waits until the scheduler settles
// (Idle, Paused or Halted). Dispatch while Running appends to the deferred
// queue, which only advances after the current flush, follow-ups included,
// is empty. Game state may only be read while the scheduler is settled.
type Scheduler struct {
	mu        sync.Mutex
	registry  map[string]Definition
	bus       *rules.EventBus
	snapshots Snapshotter
	logger    *zap.Logger
	tracer    trace.Tracer
	maxSteps  int
	gameID    string

	state    State
	queue    []queued
	deferred []queued
	pending  *pendingChoice
	phase    *phase
	history  []Action
	steps    int
	fatal    *FatalError

	baseCtx context.Context
	stop    context.CancelFunc
}

// New constructs an idle scheduler with the choice actions registered.
func New(opts ...Option) *Scheduler {
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Scheduler{
		registry: make(map[string]Definition),
		baseCtx:  baseCtx,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.gameID != "" {
		s.logger = s.logger.With(zap.String("game_id", s.gameID))
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.Register(Definition{Type: ActionChoiceResolve, Responds: AnyChoice})
	s.Register(Definition{Type: ActionChoiceCancel, Responds: AnyChoice, Cancels: true})
	return s
}

// Register adds an action type to the registry, replacing any previous
// definition of the same type.
func (s *Scheduler) Register(def Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[def.Type] = def
}

// State returns the current execution state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Awaiting returns the kind of the pending choice while paused.
func (s *Scheduler) Awaiting() (ChoiceKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.kind, true
}

// Fatal returns the error that halted the scheduler, if any.
func (s *Scheduler) Fatal() *FatalError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// History returns the recorded top-level actions in execution order.
func (s *Scheduler) History() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Pending returns the number of top-level actions waiting for a later flush.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// Dispatch submits a top-level action.
//
// Unknown action types are ignored. While paused, an action whose
// definition answers the pending choice resumes the paused action and the
// call waits for the scheduler to settle; any other action is queued. A
// queued action returns nil immediately; its outcome is observed through
// Wait or the next settle.
func (s *Scheduler) Dispatch(ctx context.Context, action Action) error {
	return s.submit(ctx, action, false)
}

// Resolve answers the pending choice with payload.
func (s *Scheduler) Resolve(ctx context.Context, payload any) error {
	action, err := NewAction(ActionChoiceResolve, payload)
	if err != nil {
		return err
	}
	return s.submit(ctx, action, true)
}

// Cancel answers the pending choice with the cancelled variant. The paused
// action is responsible for unwinding whatever it committed before pausing.
func (s *Scheduler) Cancel(ctx context.Context) error {
	return s.submit(ctx, Action{Type: ActionChoiceCancel}, true)
}

func (s *Scheduler) submit(ctx context.Context, action Action, mustAnswer bool) error {
	s.mu.Lock()

	if s.state == StateHalted {
		s.mu.Unlock()
		return ErrHalted
	}
	def, ok := s.registry[action.Type]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("ignoring unknown action type", zap.String("action_type", action.Type))
		return nil
	}

	switch s.state {
	case StatePaused:
		if !def.answers(s.pending.kind) {
			if mustAnswer {
				s.mu.Unlock()
				return ErrNotPaused
			}
			s.deferred = append(s.deferred, queued{action: action, topLevel: true})
			s.mu.Unlock()
			return nil
		}
		pending := s.pending
		s.pending = nil
		s.history = append(s.history, action)
		p := s.beginPhaseLocked()
		s.mu.Unlock()

		s.logger.Debug("choice answered",
			zap.String("action_type", action.Type),
			zap.String("choice_kind", string(pending.kind)),
			zap.Bool("cancelled", def.Cancels),
		)
		pending.result <- Choice{Kind: pending.kind, Payload: action.Payload, Cancelled: def.Cancels}
		return p.wait(ctx)

	case StateRunning:
		if mustAnswer {
			s.mu.Unlock()
			return ErrNotPaused
		}
		s.deferred = append(s.deferred, queued{action: action, topLevel: true})
		s.mu.Unlock()
		return nil

	default:
		if mustAnswer {
			s.mu.Unlock()
			return ErrNotPaused
		}
		s.queue = append(s.queue, queued{action: action, topLevel: true})
		s.steps = 0
		p := s.beginPhaseLocked()
		s.mu.Unlock()

		go s.drain(s.baseCtx)
		return p.wait(ctx)
	}
}

// Wait blocks until the scheduler settles and returns the error that ended
// the current phase. It returns nil immediately when already settled.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	p := s.phase
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.wait(ctx)
}

// Enqueue appends a follow-up to the current flush. It is meant for
// listeners reacting to events raised by the running action.
func (s *Scheduler) Enqueue(action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ErrNotRunning
	}
	if _, ok := s.registry[action.Type]; !ok {
		s.logger.Debug("ignoring unknown follow-up type", zap.String("action_type", action.Type))
		return nil
	}
	s.queue = append(s.queue, queued{action: action})
	return nil
}

// Pause suspends the running action until the pending choice is answered.
// It must be called from the drain goroutine, that is from an action
// handler or a listener it triggered.
func (s *Scheduler) Pause(ctx context.Context, kind ChoiceKind) (Choice, error) {
	s.mu.Lock()
	running := s.state == StateRunning && s.pending == nil
	s.mu.Unlock()
	if !running {
		return Choice{}, ErrNotRunning
	}

	if err := s.publish(ctx, choiceEvent(rules.EventChoiceRequested, kind)); err != nil {
		return Choice{}, err
	}

	s.logger.Debug("action paused", zap.String("choice_kind", string(kind)))

	pending := &pendingChoice{kind: kind, result: make(chan Choice, 1)}
	s.mu.Lock()
	s.pending = pending
	s.state = StatePaused
	s.settleLocked(nil)
	s.mu.Unlock()

	select {
	case choice := <-pending.result:
		return choice, s.publish(ctx, choiceEvent(rules.EventChoiceResolved, kind))
	case <-ctx.Done():
		return Choice{}, ctx.Err()
	}
}

// Reset clears a halted scheduler so it accepts dispatches again. History
// is kept; a caller that cannot trust the current state should rebuild it
// on a fresh instance with ApplyHistory.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHalted {
		return
	}
	s.state = StateIdle
	s.fatal = nil
	s.queue = nil
	s.deferred = nil
	s.logger.Info("scheduler reset after fatal error")
}

// Close aborts a paused action. The scheduler is unusable afterwards.
func (s *Scheduler) Close() {
	s.stop()
}

func (s *Scheduler) beginPhaseLocked() *phase {
	s.state = StateRunning
	p := &phase{done: make(chan struct{})}
	s.phase = p
	return p
}

func (s *Scheduler) settleLocked(err error) {
	if s.phase == nil {
		return
	}
	s.phase.err = err
	close(s.phase.done)
	s.phase = nil
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			if err := s.finishFlush(ctx); err != nil {
				s.fail(Action{Type: string(rules.EventQueueFlushed)}, err)
				return
			}

			s.mu.Lock()
			if len(s.queue) > 0 {
				// a flush listener enqueued follow-ups
				s.mu.Unlock()
				continue
			}
			if len(s.deferred) == 0 {
				s.state = StateIdle
				s.settleLocked(nil)
				s.mu.Unlock()
				return
			}
			s.queue = append(s.queue, s.deferred[0])
			s.deferred = s.deferred[1:]
			s.steps = 0
			s.mu.Unlock()
			continue
		}

		item := s.queue[0]
		s.queue = s.queue[1:]
		s.steps++
		if s.maxSteps > 0 && s.steps > s.maxSteps {
			steps := s.steps
			s.mu.Unlock()
			s.fail(item.action, &StepsExceededError{Steps: steps, Limit: s.maxSteps})
			return
		}
		def := s.registry[item.action.Type]
		if item.topLevel {
			s.history = append(s.history, item.action)
		}
		s.mu.Unlock()

		if err := s.run(ctx, def, item); err != nil {
			s.fail(item.action, err)
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, def Definition, item queued) (err error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.action", trace.WithAttributes(
		attribute.String("game.id", s.gameID),
		attribute.String("action.type", item.action.Type),
		attribute.Bool("action.top_level", item.topLevel),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Action: item.action, Err: fmt.Errorf("panic: %v", r), Panic: r}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	s.logger.Debug("running action",
		zap.String("action_type", item.action.Type),
		zap.Bool("top_level", item.topLevel),
	)

	if def.Handler == nil {
		return rules.Violation(rules.CodeWrongPhase, "%s answers a choice but none is pending", item.action.Type)
	}
	return def.Handler(ctx, &Execution{s: s, action: item.action}, item.action.Payload)
}

// fail ends the drain. Rule violations discard the queues and recover to
// Idle; anything else halts the scheduler.
func (s *Scheduler) fail(action Action, err error) {
	if violation, ok := rules.AsRuleViolation(err); ok && !IsFatal(err) {
		s.recoverFrom(action, violation, err)
		return
	}
	s.halt(action, err)
}

func (s *Scheduler) recoverFrom(action Action, violation *rules.RuleViolation, err error) {
	s.mu.Lock()
	dropped := len(s.queue) + len(s.deferred)
	s.queue = nil
	s.deferred = nil
	s.pending = nil
	s.mu.Unlock()

	s.logger.Info("rule violation, queue discarded",
		zap.String("action_type", action.Type),
		zap.String("code", violation.Code),
		zap.String("reason", violation.Reason()),
		zap.Int("dropped", dropped),
	)

	if s.snapshots != nil {
		diag := map[string]any{
			"code":   violation.Code,
			"reason": violation.Reason(),
			"action": action,
		}
		if _, snapErr := s.snapshots.TakeSnapshot(snapshot.KindRecovery, diag); snapErr != nil {
			s.halt(action, fmt.Errorf("recovery snapshot: %w", snapErr))
			return
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.settleLocked(err)
	s.mu.Unlock()
}

func (s *Scheduler) halt(action Action, err error) {
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		fatal = &FatalError{Action: action, Err: err}
	}

	s.mu.Lock()
	s.fatal = fatal
	s.queue = nil
	s.deferred = nil
	s.pending = nil
	history := slices.Clone(s.history)
	s.mu.Unlock()

	s.logger.Error("fatal error, scheduler halted",
		zap.String("action_type", action.Type),
		zap.Int("history_len", len(history)),
		zap.Error(fatal),
	)

	if s.snapshots != nil {
		diag := map[string]any{
			"error":   fatal.Error(),
			"action":  action,
			"history": history,
		}
		if _, snapErr := s.snapshots.TakeSnapshot(snapshot.KindError, diag); snapErr != nil {
			s.logger.Error("failed to capture error snapshot", zap.Error(snapErr))
		}
	}

	// Halted is entered only after the error snapshot so Reset cannot
	// race a drain that is still shutting down.
	s.mu.Lock()
	s.state = StateHalted
	s.deferred = nil
	s.settleLocked(fatal)
	s.mu.Unlock()
}

func (s *Scheduler) finishFlush(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Action: Action{Type: string(rules.EventQueueFlushed)}, Err: fmt.Errorf("panic: %v", r), Panic: r}
		}
	}()
	if s.snapshots != nil {
		if _, err := s.snapshots.TakeSnapshot(snapshot.KindFlush, nil); err != nil {
			return fmt.Errorf("flush snapshot: %w", err)
		}
	}
	return s.publish(ctx, rules.NewEvent(rules.EventQueueFlushed, "", "", ""))
}

func (s *Scheduler) publish(ctx context.Context, event rules.Event) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(ctx, event)
}

func choiceEvent(eventType rules.EventType, kind ChoiceKind) rules.Event {
	evt := rules.NewEvent(eventType, "", "", "")
	evt.Metadata["choice_kind"] = string(kind)
	return evt
}

// Execution is the running action's view of the scheduler.
type Execution struct {
	s      *Scheduler
	action Action
}

// Action returns the action being executed.
func (e *Execution) Action() Action {
	return e.action
}

// Enqueue appends a follow-up action to the current flush.
func (e *Execution) Enqueue(action Action) error {
	return e.s.Enqueue(action)
}

// Pause suspends the action until the choice is answered or cancelled.
func (e *Execution) Pause(ctx context.Context, kind ChoiceKind) (Choice, error) {
	return e.s.Pause(ctx, kind)
}
