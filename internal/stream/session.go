package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"BytesmeSearch/internal/reveal"
	"BytesmeSearch/internal/session"
)

// Session drives streamed searches for one search screen.
//
// It owns at most one open connection and one pending turn at any time. Start and
// StartFollowUp cancel whatever is in flight before dialing, so callers never see
// ErrConnectionAlreadyOpen. Chunks are processed in arrival order by a single
// goroutine per turn; the assistant turn is appended to the history only when the
// done marker arrives.
type Session struct {
	dialer      Dialer
	search      *session.SearchSession
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	inst        instruments
	scheduler   reveal.Scheduler
	idleTimeout time.Duration
	now         func() time.Time
	events      *eventQueue

	startMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	pending *Accumulator
	reveal  *reveal.Run
	lastErr error
}

// Option configures a Session
type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) { s.tracer = tracer }
}

func WithMeter(meter metric.Meter) Option {
	return func(s *Session) { s.meter = meter }
}

// WithReveal sets the pacing used for product reveals of completed turns
func WithReveal(scheduler reveal.Scheduler) Option {
	return func(s *Session) { s.scheduler = scheduler }
}

// WithIdleTimeout fails a turn when the connection stays silent for d (0 disables)
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) { s.idleTimeout = d }
}

// WithClock overrides the time source used for turn timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithSearchSession attaches an existing search session instead of a fresh one
func WithSearchSession(search *session.SearchSession) Option {
	return func(s *Session) { s.search = search }
}

// NewSession creates an idle session that opens connections through dialer
func NewSession(dialer Dialer, opts ...Option) *Session {
	s := &Session{
		dialer:    dialer,
		scheduler: reveal.NewScheduler(reveal.DefaultDelay, reveal.DefaultStagger),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = session.NewSearchSession()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if s.meter == nil {
		s.meter = metricnoop.NewMeterProvider().Meter("")
	}
	s.inst = newInstruments(s.meter, s.logger)
	s.events = newEventQueue()
	return s
}

// Start issues a new initial query. The previous conversation is discarded.
func (s *Session) Start(ctx context.Context, query string) error {
	return s.begin(ctx, query, false)
}

// StartFollowUp issues a query continuing the current conversation
func (s *Session) StartFollowUp(ctx context.Context, query string) error {
	return s.begin(ctx, query, true)
}

// turnRun carries the per-turn values shared by begin and run
type turnRun struct {
	gen       uint64
	span      trace.Span
	cancel    context.CancelFunc
	startedAt time.Time
	requestID string
}

func (s *Session) begin(ctx context.Context, query string, followUp bool) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}

	// Cancel before taking startMu so an in-flight dial of another Start gives up quickly.
	s.Cancel()
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.Cancel()

	var continuation string
	if followUp {
		id, ok := s.search.SessionID()
		if !ok {
			return ErrNoSession
		}
		continuation = id
	} else {
		s.mu.Lock()
		s.resetLocked()
		s.mu.Unlock()
	}

	startedAt := s.now()
	s.search.History.Append(session.UserTurn{Text: query, IssuedAt: startedAt})

	runCtx, cancel := context.WithCancel(ctx)
	runCtx, span := s.tracer.Start(runCtx, "search.stream",
		trace.WithAttributes(attribute.Bool("search.follow_up", followUp)))
	t := &turnRun{
		span:      span,
		cancel:    cancel,
		startedAt: startedAt,
		requestID: uuid.New().String(),
	}

	s.mu.Lock()
	if s.done != nil {
		// Cancel above waited for the previous run to exit
		s.mu.Unlock()
		cancel()
		span.End()
		return ErrConnectionAlreadyOpen
	}
	s.gen++
	t.gen = s.gen
	s.cancel = cancel
	s.pending = NewAccumulator()
	s.lastErr = nil
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.logger.Info("starting search stream", "request_id", t.requestID, "follow_up", followUp, "query_length", len(query))

	conn, err := s.dialer.Dial(runCtx, Request{Query: query, Continuation: continuation, RequestID: t.requestID})

	s.mu.Lock()
	if t.gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		cancel()
		span.SetAttributes(attribute.String("search.outcome", StateCancelled.String()))
		span.End()
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			s.endLocked(t, StateCancelled, nil)
			s.mu.Unlock()
			cancel()
			span.End()
			return nil
		}
		terr := &TransportError{Op: "dial", Err: err}
		s.endLocked(t, StateFailed, terr)
		s.mu.Unlock()
		cancel()
		span.End()
		return terr
	}
	done := make(chan struct{})
	s.done = done
	s.setStateLocked(StateStreaming)
	s.mu.Unlock()

	go s.run(runCtx, t, conn, done)
	return nil
}

// Cancel abandons the turn in flight, closes its connection and discards the
// pending turn. It is a no-op when nothing is in flight and safe to call repeatedly.
// The reveal sequence of an already completed turn is not affected.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	if s.state == StateConnecting || s.state == StateStreaming {
		s.gen++
		s.pending = nil
		s.inst.cancelled.Add(context.Background(), 1)
		s.setStateLocked(StateCancelled)
		s.logger.Info("search stream cancelled")
	}
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Reset cancels the turn in flight, stops the current reveal sequence and
// discards the conversation and its session id.
func (s *Session) Reset() {
	s.Cancel()
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.setStateLocked(StateIdle)
}

func (s *Session) resetLocked() {
	if s.reveal != nil {
		s.reveal.Cancel()
		s.reveal = nil
	}
	s.search.Reset()
	s.lastErr = nil
	s.events.push(Event{Type: EventReset, State: s.state})
}

// CancelReveal stops the reveal sequence of the last completed turn
func (s *Session) CancelReveal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reveal != nil {
		s.reveal.Cancel()
	}
}

// Close cancels everything and stops event delivery
func (s *Session) Close() {
	s.Cancel()
	s.CancelReveal()
	s.events.close()
}

// Events delivers state changes, pending snapshots, completed turns and failures in order.
// The channel is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events.out
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure of the last turn, if it failed
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Pending returns a snapshot of the turn in flight; ok is false when there is none
func (s *Session) Pending() (session.PendingSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return session.PendingSnapshot{}, false
	}
	return s.pending.Snapshot(), true
}

// History returns the completed turns in chronological order
func (s *Session) History() []session.Turn {
	return s.search.History.Turns()
}

// SessionID returns the continuation token issued by the server
func (s *Session) SessionID() (string, bool) {
	return s.search.SessionID()
}

// Search returns the underlying search session
func (s *Session) Search() *session.SearchSession {
	return s.search
}

// Reveal returns the reveal run of the last completed turn
func (s *Session) Reveal() *reveal.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reveal
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	s.events.push(Event{Type: EventStateChanged, State: state})
}

func (s *Session) run(ctx context.Context, t *turnRun, conn Conn, done chan struct{}) {
	stop := make(chan struct{})
	outcome := StateCancelled
	defer func() {
		// Stop the reader and release the connection before Cancel returns
		close(stop)
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close stream connection", "error", err)
		}
		t.cancel()
		t.span.SetAttributes(attribute.String("search.outcome", outcome.String()))
		t.span.End()

		s.mu.Lock()
		if s.done == done {
			s.done = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	// Read messages on a separate goroutine so cancellation is never stuck in Next
	messages := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			raw, err := conn.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- raw:
			case <-stop:
				return
			}
		}
	}()

	// Set up the idle timer; a nil channel never fires when it is disabled
	var idleC <-chan time.Time
	var idle *time.Timer
	if s.idleTimeout > 0 {
		idle = time.NewTimer(s.idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-ctx.Done():
			s.end(t, StateCancelled, nil)
			return

		case err := <-readErr:
			if ctx.Err() != nil {
				s.end(t, StateCancelled, nil)
				return
			}
			// A clean close before the done marker is still a failure
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			outcome = StateFailed
			s.end(t, StateFailed, &TransportError{Op: "read", Err: err})
			return

		case <-idleC:
			outcome = StateFailed
			s.end(t, StateFailed, &TransportError{Op: "read", Err: ErrIdleTimeout})
			return

		case raw := <-messages:
			// Any message, even an undecodable one, counts as activity
			if idle != nil {
				idle.Reset(s.idleTimeout)
			}
			if st, terminal := s.handle(ctx, t, raw); terminal {
				outcome = st
				return
			}
		}
	}
}

// handle processes one raw message and reports whether the turn is over
func (s *Session) handle(ctx context.Context, t *turnRun, raw []byte) (State, bool) {
	chunk, err := Decode(raw)
	if err != nil {
		s.inst.decodeErrors.Add(ctx, 1)
		s.logger.Warn("skipping undecodable chunk", "request_id", t.requestID, "bytes", len(raw), "error", err)
		return StateStreaming, false
	}
	s.inst.decoded.Add(ctx, 1, metric.WithAttributes(attribute.String("type", chunk.Kind.String())))

	switch chunk.Kind {
	case ChunkDone:
		return s.complete(ctx, t), true
	case ChunkError:
		s.end(t, StateFailed, &TransportError{Op: "stream", Err: &ServerError{Message: chunk.Cause}})
		return StateFailed, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.gen != s.gen || s.pending == nil {
		return StateCancelled, true
	}
	s.pending.Apply(chunk, s.search)
	s.events.push(Event{Type: EventPending, State: StateStreaming, Pending: s.pending.Snapshot()})
	return StateStreaming, false
}

// complete publishes the pending turn; this is the only place an assistant turn is appended
func (s *Session) complete(ctx context.Context, t *turnRun) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.gen != s.gen || s.state != StateStreaming || s.pending == nil {
		return StateCancelled
	}

	chunks := s.pending.Chunks()
	turn := s.pending.Freeze(s.now())
	s.search.History.Append(turn)
	conv := s.search.Snapshot()
	s.pending = nil
	s.cancel = nil

	if s.reveal != nil {
		s.reveal.Cancel()
	}
	products := turn.Products()
	s.reveal = s.scheduler.Schedule(products)

	elapsed := s.now().Sub(t.startedAt)
	s.inst.completed.Add(ctx, 1)
	s.inst.duration.Record(ctx, float64(elapsed.Milliseconds()))
	t.span.SetAttributes(
		attribute.Int("search.chunks", chunks),
		attribute.Int("search.products", len(products)),
	)
	s.logger.Info("search turn completed", "request_id", t.requestID, "chunks", chunks, "products", len(products), "duration_ms", elapsed.Milliseconds())

	s.setStateLocked(StateCompleted)
	s.events.push(Event{Type: EventTurnCompleted, State: StateCompleted, Turn: turn, Reveal: s.reveal, Conversation: conv})
	return StateCompleted
}

func (s *Session) end(t *turnRun, state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(t, state, err)
}

// endLocked moves the turn to Cancelled or Failed, dropping the pending turn
func (s *Session) endLocked(t *turnRun, state State, err error) {
	if t.gen != s.gen || (s.state != StateConnecting && s.state != StateStreaming) {
		return
	}
	s.gen++
	s.pending = nil
	s.cancel = nil

	if state == StateFailed {
		s.lastErr = err
		s.inst.failed.Add(context.Background(), 1)
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
		s.logger.Error("search stream failed", "request_id", t.requestID, "error", err)
		s.setStateLocked(StateFailed)
		s.events.push(Event{Type: EventFailed, State: StateFailed, Err: err})
		return
	}

	s.inst.cancelled.Add(context.Background(), 1)
	s.setStateLocked(StateCancelled)
}

type instruments struct {
	decoded      metric.Int64Counter
	decodeErrors metric.Int64Counter
	completed    metric.Int64Counter
	cancelled    metric.Int64Counter
	failed       metric.Int64Counter
	duration     metric.Float64Histogram
}

func newInstruments(meter metric.Meter, logger *slog.Logger) instruments {
	fallback := metricnoop.NewMeterProvider().Meter("")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("failed to create counter", "name", name, "error", err)
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	duration, err := meter.Float64Histogram(
		"search.stream.duration",
		metric.WithDescription("Time from query to done marker in milliseconds"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "name", "search.stream.duration", "error", err)
		duration, _ = fallback.Float64Histogram("search.stream.duration")
	}

	return instruments{
		decoded:      counter("search.chunks.decoded", "Stream chunks decoded, by type"),
		decodeErrors: counter("search.chunks.decode_errors", "Stream messages skipped as undecodable"),
		completed:    counter("search.turns.completed", "Streamed turns that reached the done marker"),
		cancelled:    counter("search.turns.cancelled", "Streamed turns cancelled before completion"),
		failed:       counter("search.turns.failed", "Streamed turns that failed"),
		duration:     duration,
	}
}
