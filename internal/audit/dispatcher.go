package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/metrics"
)

var (
	// ErrDropped is returned by Dispatcher.Record when the buffer is full.
	ErrDropped = errors.New("audit buffer full: event dropped")
	// ErrClosed is returned by Dispatcher.Record after Close.
	ErrClosed = errors.New("audit dispatcher closed")
)

const (
	defaultBufferSize      = 1024
	defaultDeliveryTimeout = 5 * time.Second
)

// DispatcherConfig controls buffering. With DropIfFull unset, Record waits for
// buffer space until its context is done.
type DispatcherConfig struct {
	BufferSize      int
	DropIfFull      bool
	DeliveryTimeout time.Duration
}

// Dispatcher decouples callers from a slow sink: Record only enqueues and a
// single goroutine delivers events in order, each bounded by DeliveryTimeout.
type Dispatcher struct {
	cfg       DispatcherConfig
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if sink == nil {
		sink = NoopSink{}
	}
	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.deliver(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	defer cancel()
	if err := d.sink.Record(ctx, e); err != nil {
		metrics.AuditFailures.WithLabelValues(string(e.Type)).Inc()
		logger.Warnf("audit delivery %s for user %s: %v", e.Type, e.UserID, err)
	}
}

// Record enqueues e. It never waits on the sink itself.
func (d *Dispatcher) Record(ctx context.Context, e Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.cfg.DropIfFull {
		select {
		case d.ch <- e:
			return nil
		case <-d.done:
			return ErrClosed
		default:
			d.dropped.Add(1)
			return ErrDropped
		}
	}
	select {
	case d.ch <- e:
		return nil
	case <-ctx.Done():
		d.dropped.Add(1)
		return ErrDropped
	case <-d.done:
		return ErrClosed
	}
}

// Close stops accepting events and delivers what is already buffered.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
	return nil
}

// Dropped reports how many events were refused because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
