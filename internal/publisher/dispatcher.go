// Package publisher fans tracker events out to downstream sinks without
// blocking the poller.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/metrics"
	"github.com/fortuna/aegis/internal/reconciliation"
)

// Handler consumes events for one sink.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev reconciliation.Event) error
}

type worker struct {
	handler Handler
	queue   chan reconciliation.Event
}

// Dispatcher queues events per handler. A full queue drops the event for
// that handler only.
type Dispatcher struct {
	workers []*worker
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Manager

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	buffer  int
	timeout time.Duration
}

// WithBuffer sets the per-handler queue length.
func WithBuffer(n int) DispatcherOption {
	return func(c *dispatcherConfig) { c.buffer = n }
}

// WithHandleTimeout bounds each Handle call.
func WithHandleTimeout(d time.Duration) DispatcherOption {
	return func(c *dispatcherConfig) { c.timeout = d }
}

// NewDispatcher creates a dispatcher. Nil handlers are skipped.
func NewDispatcher(logger zerolog.Logger, m *metrics.Manager, handlers []Handler, opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{buffer: 256, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	d := &Dispatcher{
		timeout: cfg.timeout,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		metrics: m,
	}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		d.workers = append(d.workers, &worker{handler: h, queue: make(chan reconciliation.Event, cfg.buffer)})
	}
	return d
}

// Start launches one goroutine per handler.
func (d *Dispatcher) Start() {
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.run(w)
	}
	d.logger.Info().Int("sinks", len(d.workers)).Msg("dispatcher started")
}

// Publish enqueues events without blocking.
func (d *Dispatcher) Publish(events []reconciliation.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, ev := range events {
		for _, w := range d.workers {
			select {
			case w.queue <- ev:
			default:
				d.metrics.RecordPublishDrop(w.handler.Name())
				d.logger.Warn().
					Str("sink", w.handler.Name()).
					Str("event", string(ev.Type)).
					Str("series_id", ev.SeriesKey).
					Msg("sink queue full; event dropped")
			}
		}
	}
}

// Stop closes the queues and waits for queued events to drain.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, w := range d.workers {
			close(w.queue)
		}
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(w *worker) {
	defer d.wg.Done()
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := w.handler.Handle(ctx, ev); err != nil {
			d.logger.Error().
				Err(err).
				Str("sink", w.handler.Name()).
				Str("event", string(ev.Type)).
				Str("series_id", ev.SeriesKey).
				Msg("sink failed")
		}
		cancel()
	}
}
