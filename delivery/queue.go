package delivery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/viant/sqlite-txt/coordinator"
	"golang.org/x/time/rate"
)

type job struct {
	ev      coordinator.Event
	barrier chan struct{}
}

// Queue handles events on a fixed set of worker shards. Events of the same
// record always land on the same shard and are handled in delivery order.
// Events whose handling failed are reported by the next Flush or Close.
type Queue struct {
	handler Handler
	workers int
	buffer  int
	limiter *rate.Limiter
	onError func(coordinator.Event, error)
	logger  zerolog.Logger
	mu      sync.RWMutex
	closed  bool
	shards  []chan job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	failMu   sync.Mutex
	failures []error
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of shards; defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBuffer sets the per-shard buffer; Deliver blocks once it is full.
func WithBuffer(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.buffer = n
		}
	}
}

// WithRateLimit caps the rate events are handled at across all shards.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(q *Queue) { q.limiter = rate.NewLimiter(limit, burst) }
}

// WithErrorHandler receives every event whose handling failed.
func WithErrorHandler(fn func(coordinator.Event, error)) Option {
	return func(q *Queue) { q.onError = fn }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// NewQueue starts the workers.
func NewQueue(handler Handler, opts ...Option) *Queue {
	q := &Queue{
		handler: handler,
		workers: runtime.GOMAXPROCS(0),
		buffer:  64,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.shards = make([]chan job, q.workers)
	for i := range q.shards {
		q.shards[i] = make(chan job, q.buffer)
		q.wg.Add(1)
		go q.run(q.shards[i])
	}
	return q
}

// Deliver enqueues ev on its record's shard, blocking while the shard is full.
func (q *Queue) Deliver(ctx context.Context, ev coordinator.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.shard(ev) <- job{ev: ev}:
		queueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every event accepted before the call has been handled
// and returns the failures collected since the previous Flush.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return q.takeFailures()
	}
	barriers := make([]chan struct{}, 0, len(q.shards))
	for _, shard := range q.shards {
		barrier := make(chan struct{})
		select {
		case shard <- job{barrier: barrier}:
			barriers = append(barriers, barrier)
		case <-ctx.Done():
			q.mu.RUnlock()
			return ctx.Err()
		}
	}
	q.mu.RUnlock()
	for _, barrier := range barriers {
		select {
		case <-barrier:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return q.takeFailures()
}

// Close stops accepting events, drains the shards and waits for the workers.
// It returns the failures no Flush has reported yet.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, shard := range q.shards {
		close(shard)
	}
	q.mu.Unlock()
	q.wg.Wait()
	q.cancel()
	return q.takeFailures()
}

func (q *Queue) shard(ev coordinator.Event) chan job {
	h := xxhash.Sum64String(ev.Type + "\x00" + ev.ID)
	return q.shards[h%uint64(len(q.shards))]
}

func (q *Queue) run(shard chan job) {
	defer q.wg.Done()
	for j := range shard {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		q.handle(j.ev)
		queueDepth.Dec()
	}
}

func (q *Queue) handle(ev coordinator.Event) {
	if q.limiter != nil {
		if err := q.limiter.Wait(q.ctx); err != nil {
			q.fail(ev, err)
			return
		}
	}
	err := q.handler.Handle(q.ctx, ev)
	eventsTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		q.fail(ev, err)
	}
}

func (q *Queue) fail(ev coordinator.Event, err error) {
	q.logger.Error().Err(err).
		Str("record_type", ev.Type).
		Str("record_id", ev.ID).
		Stringer("kind", ev.Kind).
		Msg("event dropped")
	q.failMu.Lock()
	q.failures = append(q.failures, fmt.Errorf("delivery: %v %s/%s: %w", ev.Kind, ev.Type, ev.ID, err))
	q.failMu.Unlock()
	if q.onError != nil {
		q.onError(ev, err)
	}
}

func (q *Queue) takeFailures() error {
	q.failMu.Lock()
	defer q.failMu.Unlock()
	err := errors.Join(q.failures...)
	q.failures = nil
	return err
}
