// Package delivery hands record lifecycle events to a handler, either inline
// on the caller's goroutine or through a sharded queue that preserves the
// order of events per record.
package delivery

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/sqlite-txt/coordinator"
)

// ErrClosed is returned by Deliver after Close.
var ErrClosed = errors.New("delivery: closed")

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txt",
		Subsystem: "delivery",
		Name:      "queue_depth",
		Help:      "Events accepted but not yet handled.",
	})
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "delivery",
		Name:      "events_total",
		Help:      "Handled events by result.",
	}, []string{"result"})
)

// Collectors returns the package metrics for registration by the host.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{queueDepth, eventsTotal}
}

// Handler applies one event.
type Handler interface {
	Handle(ctx context.Context, ev coordinator.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev coordinator.Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev coordinator.Event) error { return f(ctx, ev) }

// Deliverer accepts events for handling.
type Deliverer interface {
	// Deliver hands ev over. Inline delivery returns the handler's error;
	// queued delivery only reports whether ev was accepted.
	Deliver(ctx context.Context, ev coordinator.Event) error
	// Flush waits until every accepted event has been handled. It fails
	// when any event handled since the previous Flush failed.
	Flush(ctx context.Context) error
	Close() error
}

// Inline calls the handler synchronously.
type Inline struct {
	handler Handler
}

// NewInline creates an Inline deliverer.
func NewInline(handler Handler) *Inline { return &Inline{handler: handler} }

// Deliver implements Deliverer.
func (d *Inline) Deliver(ctx context.Context, ev coordinator.Event) error {
	err := d.handler.Handle(ctx, ev)
	eventsTotal.WithLabelValues(result(err)).Inc()
	return err
}

// Flush implements Deliverer; inline delivery has nothing pending.
func (d *Inline) Flush(context.Context) error { return nil }

// Close implements Deliverer.
func (d *Inline) Close() error { return nil }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	_ Deliverer = (*Inline)(nil)
	_ Deliverer = (*Queue)(nil)
	_ Handler   = (*coordinator.Coordinator)(nil)
)
