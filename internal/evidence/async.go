package evidence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/ppe.report/internal/compliance"
)

// DefaultAlertQueue is the delivery backlog NewAsyncAlerter uses for a
// non-positive size.
const DefaultAlertQueue = 32

var (
	// ErrAlertQueueFull is returned when an alert is dropped because the
	// delivery queue is full.
	ErrAlertQueueFull = errors.New("evidence: alert queue full")
	// ErrAlerterClosed is returned for alerts raised after Close.
	ErrAlerterClosed = errors.New("evidence: alerter closed")
)

type queuedAlert struct {
	ctx   context.Context
	alert compliance.Alert
}

// AsyncAlerter hands alerts to a single delivery goroutine so a slow
// alerter (a remote webhook) never holds up the tick that raised them.
// When the queue is full the alert is dropped and counted.
type AsyncAlerter struct {
	inner compliance.Alerter
	queue chan queuedAlert
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	dropped   atomic.Int64
	failed    atomic.Int64
	delivered atomic.Int64
}

// NewAsyncAlerter starts the delivery goroutine for inner. Call Close to
// drain the queue and stop it.
func NewAsyncAlerter(inner compliance.Alerter, size int) *AsyncAlerter {
	if size <= 0 {
		size = DefaultAlertQueue
	}
	a := &AsyncAlerter{
		inner: inner,
		queue: make(chan queuedAlert, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Alert enqueues a without waiting for delivery. Delivery keeps the
// caller's context values but not its cancellation.
func (a *AsyncAlerter) Alert(ctx context.Context, alert compliance.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAlerterClosed
	}
	select {
	case a.queue <- queuedAlert{ctx: context.WithoutCancel(ctx), alert: alert}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrAlertQueueFull
	}
}

func (a *AsyncAlerter) run() {
	defer close(a.done)
	for q := range a.queue {
		if err := a.inner.Alert(q.ctx, q.alert); err != nil {
			a.failed.Add(1)
			opsf("alert delivery for %s failed: %v", q.alert.PersonID, err)
			continue
		}
		a.delivered.Add(1)
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered,
// or for ctx to end.
func (a *AsyncAlerter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped counts alerts rejected because the queue was full.
func (a *AsyncAlerter) Dropped() int64 { return a.dropped.Load() }

// Failed counts alerts the inner alerter returned an error for.
func (a *AsyncAlerter) Failed() int64 { return a.failed.Load() }

// Delivered counts alerts the inner alerter accepted.
func (a *AsyncAlerter) Delivered() int64 { return a.delivered.Load() }
