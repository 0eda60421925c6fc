package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"reslock/pkg/logger"
)

var (
	ErrQueueFull        = errors.New("lock event queue is full")
	ErrPublisherStopped = errors.New("lock event publisher is stopped")
)

const (
	DefaultQueueSize    = 1024
	DefaultEventTimeout = 5 * time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// AsyncPublisher queues events and delivers them through next from its own goroutine,
// so Publish never waits on the broker. A full queue drops the event.
// It implements contracts.Worker.
type AsyncPublisher struct {
	next         Publisher
	queue        chan LockEvent
	eventTimeout time.Duration
	drainTimeout time.Duration
	log          *logger.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	started  chan struct{}
	done     chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type AsyncOption func(*AsyncPublisher)

// WithEventTimeout bounds a single delivery, retries included.
func WithEventTimeout(d time.Duration) AsyncOption {
	return func(p *AsyncPublisher) {
		if d > 0 {
			p.eventTimeout = d
		}
	}
}

// WithDrainTimeout bounds how long Stop keeps delivering queued events.
func WithDrainTimeout(d time.Duration) AsyncOption {
	return func(p *AsyncPublisher) {
		if d > 0 {
			p.drainTimeout = d
		}
	}
}

func NewAsyncPublisher(next Publisher, queueSize int, log *logger.Logger, opts ...AsyncOption) *AsyncPublisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &AsyncPublisher{
		next:         next,
		queue:        make(chan LockEvent, queueSize),
		eventTimeout: DefaultEventTimeout,
		drainTimeout: DefaultDrainTimeout,
		log:          log,
		stopChan:     make(chan struct{}),
		started:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish enqueues event without blocking.
func (p *AsyncPublisher) Publish(_ context.Context, event LockEvent) error {
	select {
	case <-p.stopChan:
		return ErrPublisherStopped
	default:
	}

	select {
	case p.queue <- event:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done or Stop is called, then drains.
func (p *AsyncPublisher) Run(ctx context.Context) {
	defer close(p.done)
	p.log.Info("Lock event publisher started", "queue_size", cap(p.queue))
	close(p.started)

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.stopChan:
			p.drain()
			return
		case event := <-p.queue:
			p.deliver(context.WithoutCancel(ctx), event)
		}
	}
}

func (p *AsyncPublisher) deliver(parent context.Context, event LockEvent) {
	ctx, cancel := context.WithTimeout(parent, p.eventTimeout)
	defer cancel()

	if err := p.next.Publish(ctx, event); err != nil {
		p.failed.Add(1)
		p.log.Warn("Failed to deliver lock event",
			"event_type", event.Type,
			"lock_id", lockID(event),
			"error", err,
		)
		return
	}
	p.delivered.Add(1)
}

func (p *AsyncPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()

	lost := 0
	for {
		select {
		case event := <-p.queue:
			if ctx.Err() != nil {
				lost++
				continue
			}
			p.deliver(ctx, event)
		default:
			if lost > 0 {
				p.dropped.Add(int64(lost))
				p.log.Warn("Lock events dropped on shutdown", "count", lost)
			}
			p.log.Info("Lock event publisher stopped")
			return
		}
	}
}

// Stop ends Run and waits for the drain to finish. Safe to call more than once.
func (p *AsyncPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	select {
	case <-p.started:
		<-p.done
	default:
	}
}

// Started is closed once Run is consuming the queue.
func (p *AsyncPublisher) Started() <-chan struct{} {
	return p.started
}

type AsyncStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

func (p *AsyncPublisher) Stats() AsyncStats {
	return AsyncStats{
		Delivered: p.delivered.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func lockID(event LockEvent) string {
	if event.Lock == nil {
		return ""
	}
	return event.Lock.ID
}
