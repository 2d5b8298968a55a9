// Package queue hands decoded frames from the decoding goroutine to any number
// of consumers through a single dispatch goroutine.
//
// The buffer is unbounded. A consumer slower than the camera makes the
// backlog grow without limit, and a consumer that blocks stalls delivery to
// every other consumer.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/monitoring"
)

var (
	// ErrAlreadyRunning is returned by Start while a dispatch loop is active.
	ErrAlreadyRunning = errors.New("queue already running")
	// ErrListenerNotFound is returned by RemoveListener for an unknown id.
	ErrListenerNotFound = errors.New("listener not found")
)

// Consumer receives every frame dispatched while it is registered.
type Consumer interface {
	Consume(f *frame.Frame)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(f *frame.Frame)

func (fn ConsumerFunc) Consume(f *frame.Frame) { fn(f) }

// ListenerID identifies a registered consumer.
type ListenerID uuid.UUID

func (id ListenerID) String() string { return uuid.UUID(id).String() }

type listener struct {
	id ListenerID
	c  Consumer
}

// Option configures a Queue.
type Option func(*Queue)

// WithRegisterer registers the queue's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(q *Queue) { q.reg = reg }
}

// WithName sets the "queue" label on exported metrics. Defaults to "frames".
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// Queue buffers frames and broadcasts each one, in arrival order, to the
// registered consumers.
type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []*frame.Frame
	listeners []listener

	running  bool
	stopping bool
	done     chan struct{}

	name    string
	reg     prometheus.Registerer
	metrics *metrics
}

// New returns a stopped queue. Frames added before Start are buffered.
func New(opts ...Option) *Queue {
	q := &Queue{name: "frames"}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	q.done = make(chan struct{})
	close(q.done)
	q.metrics = newMetrics(q.reg, q.name)
	return q
}

// Add appends f to the buffer and wakes the dispatch loop. Nil frames are
// ignored.
func (q *Queue) Add(f *frame.Frame) {
	if f == nil {
		return
	}
	q.mu.Lock()
	q.buf = append(q.buf, f)
	q.metrics.added.Inc()
	q.metrics.depth.Set(float64(len(q.buf)))
	q.cond.Signal()
	q.mu.Unlock()
}

// AddListener registers c and returns a handle for RemoveListener. c must
// not be nil.
func (q *Queue) AddListener(c Consumer) ListenerID {
	id := ListenerID(uuid.New())
	q.mu.Lock()
	q.listeners = append(q.listeners, listener{id: id, c: c})
	q.metrics.listeners.Set(float64(len(q.listeners)))
	q.mu.Unlock()
	return id
}

// RemoveListener unregisters the consumer with the given id. A frame already
// being dispatched may still reach it.
func (q *Queue) RemoveListener(id ListenerID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, l := range q.listeners {
		if l.id == id {
			q.listeners = append(q.listeners[:i:i], q.listeners[i+1:]...)
			q.metrics.listeners.Set(float64(len(q.listeners)))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrListenerNotFound, id)
}

// Start launches the dispatch goroutine. It fails with ErrAlreadyRunning if a
// previous loop has not yet exited.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return ErrAlreadyRunning
	}
	q.running = true
	q.stopping = false
	q.done = make(chan struct{})
	go q.dispatchLoop(q.done)
	return nil
}

// Stop asks the dispatch loop to exit once its current drain cycle finishes
// and returns without waiting. Use Done to wait for the exit. Frames still
// buffered at that point are kept for the next Start.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.running {
		q.stopping = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// Done returns a channel closed when the current dispatch loop exits. For a
// queue that was never started the channel is already closed.
func (q *Queue) Done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

// Len returns the number of buffered frames not yet dispatched.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Listeners returns the number of registered consumers.
func (q *Queue) Listeners() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.listeners)
}

// Running reports whether a dispatch loop is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) dispatchLoop(done chan struct{}) {
	defer close(done)

	for {
		q.mu.Lock()
		for len(q.buf) == 0 && !q.stopping {
			q.cond.Wait()
		}
		if len(q.buf) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		batch := q.buf
		q.buf = nil
		q.metrics.depth.Set(0)
		q.mu.Unlock()

		for _, f := range batch {
			q.broadcast(f)
		}

		q.mu.Lock()
		if q.stopping {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
	}
}

// broadcast delivers f to a snapshot of the listeners taken under the lock.
func (q *Queue) broadcast(f *frame.Frame) {
	q.mu.Lock()
	snapshot := make([]listener, len(q.listeners))
	copy(snapshot, q.listeners)
	q.mu.Unlock()

	for _, l := range snapshot {
		q.deliver(l, f)
	}
	q.metrics.dispatched.Inc()
}

func (q *Queue) deliver(l listener, f *frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.panics.Inc()
			monitoring.Logf("queue %s: listener %s panicked on frame %d: %v", q.name, l.id, f.ID(), r)
		}
	}()
	l.c.Consume(f)
}
