package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/hospitalauth/internal/metrics"
)

// DispatcherConfig sizes the event queue between request goroutines and
// the sink.
type DispatcherConfig struct {
	BufferSize int
	// DropIfFull discards events instead of blocking the caller when the
	// queue is full. Drops are counted and logged.
	DropIfFull bool
	Logger     *slog.Logger
}

// Dispatcher moves audit events off the request path. A single worker
// writes to the sink in arrival order.
type Dispatcher struct {
	cfg     DispatcherConfig
	sink    Sink
	logger  *slog.Logger
	queue   chan Event
	worker  sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewDispatcher starts the worker for sink. A nil sink discards.
func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, cfg.BufferSize),
	}
	d.worker.Add(1)
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer d.worker.Done()
	for event := range d.queue {
		d.write(event)
	}
}

// write isolates the worker from a panicking sink so later events still
// reach it.
func (d *Dispatcher) write(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", "action", event.Action, "panic", r)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. After Close it is a no-op.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.drop(event)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	metrics.AuditDropped.Inc()
	d.logger.Warn("audit event dropped", "action", event.Action, "identifier", event.Identifier)
}

// Close stops accepting events and waits until the queue is written out.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.worker.Wait()
}

// Dropped reports how many events never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
