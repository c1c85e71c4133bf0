package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Logger reports dropped events, sink panics and the shutdown summary.
	// Nil discards them.
	Logger     *slog.Logger
}

// Dispatcher forwards events to a sink from a single goroutine so that slow
// sinks never sit on the request path. A panicking sink loses that one event
// and the worker keeps going.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    *slog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg.Enabled is
// false; every method is safe on a nil *Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
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
		logger: logger.With("component", "audit_dispatcher"),
		ch:     make(chan Event, max(cfg.BufferSize, 1)),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ctx := context.Background()
	for {
		select {
		case event := <-d.ch:
			d.deliver(ctx, event)
		case <-d.done:
			d.drain(ctx)
			return
		}
	}
}

// drain delivers whatever is still buffered.
func (d *Dispatcher) drain(ctx context.Context) {
	n := 0
	for {
		select {
		case event := <-d.ch:
			d.deliver(ctx, event)
			n++
		default:
			if n > 0 {
				d.logger.Debug("audit buffer drained", "events", n)
			}
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("audit sink panicked", "event", event.EventType, "panic", r)
		}
	}()
	d.sink.Emit(ctx, event)
	d.delivered.Add(1)
}

// Emit queues event. With DropIfFull a full buffer drops the event and counts
// it; otherwise Emit waits for room, ctx, or Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			// Only the first drop is logged; Close reports the total.
			if d.dropped.Add(1) == 1 {
				d.logger.WarnContext(ctx, "audit buffer full, dropping events",
					"event", event.EventType,
					"buffer_size", cap(d.ch),
				)
			}
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events, delivers what is buffered and waits for the
// worker to exit. Lost events are reported on the dispatcher's logger.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()

		dropped, failed := d.dropped.Load(), d.failed.Load()
		if dropped > 0 || failed > 0 {
			d.logger.Warn("audit dispatcher closed with lost events",
				"delivered", d.delivered.Load(),
				"dropped", dropped,
				"sink_panics", failed,
			)
		}
	})
}

// Dropped returns how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered returns how many events the sink accepted without panicking.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
