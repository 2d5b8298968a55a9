package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/monitoring"
)

const waitTimeout = 2 * time.Second

func newFrame(t *testing.T, id uint16) *frame.Frame {
	t.Helper()
	f, err := frame.New(25, 25, make([]byte, 625), frame.Metadata{FrameID: id})
	require.NoError(t, err)
	return f
}

// recorder collects the ids of the frames it receives.
type recorder struct {
	mu  sync.Mutex
	ids []uint16
	ch  chan uint16
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan uint16, 4096)}
}

func (r *recorder) Consume(f *frame.Frame) {
	r.mu.Lock()
	r.ids = append(r.ids, f.ID())
	r.mu.Unlock()
	r.ch <- f.ID()
}

func (r *recorder) received() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.ids...)
}

func (r *recorder) await(t *testing.T, n int) []uint16 {
	t.Helper()
	got := make([]uint16, 0, n)
	for len(got) < n {
		select {
		case id := <-r.ch:
			got = append(got, id)
		case <-time.After(waitTimeout):
			t.Fatalf("timed out after receiving %d of %d frames", len(got), n)
		}
	}
	return got
}

func stopAndWait(t *testing.T, q *Queue) {
	t.Helper()
	q.Stop()
	select {
	case <-q.Done():
	case <-time.After(waitTimeout):
		t.Fatal("dispatch loop did not exit")
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := New()
	r := newRecorder()
	q.AddListener(r)

	q.Add(newFrame(t, 'A'))
	q.Add(newFrame(t, 'B'))
	require.NoError(t, q.Start())
	q.Add(newFrame(t, 'C'))

	assert.Equal(t, []uint16{'A', 'B', 'C'}, r.await(t, 3))
	stopAndWait(t, q)
}

func TestQueue_FanOut(t *testing.T) {
	q := New()
	a, b := newRecorder(), newRecorder()
	q.AddListener(a)
	q.AddListener(b)
	require.Equal(t, 2, q.Listeners())

	require.NoError(t, q.Start())
	q.Add(newFrame(t, 7))

	assert.Equal(t, []uint16{7}, a.await(t, 1))
	assert.Equal(t, []uint16{7}, b.await(t, 1))
	stopAndWait(t, q)

	assert.Equal(t, []uint16{7}, a.received())
	assert.Equal(t, []uint16{7}, b.received())
}

func TestQueue_StartTwice(t *testing.T) {
	q := New()
	require.NoError(t, q.Start())
	assert.True(t, q.Running())

	err := q.Start()
	assert.True(t, errors.Is(err, ErrAlreadyRunning), "got %v", err)

	stopAndWait(t, q)
	assert.False(t, q.Running())
	require.NoError(t, q.Start(), "restart after exit should succeed")
	stopAndWait(t, q)
}

func TestQueue_StopNeverStarted(t *testing.T) {
	q := New()
	q.Stop()
	select {
	case <-q.Done():
	default:
		t.Fatal("Done should be closed for a queue that never started")
	}
}

func TestQueue_StopWithNonEmptyBuffer(t *testing.T) {
	q := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var delivered []uint16
	var mu sync.Mutex
	q.AddListener(ConsumerFunc(func(f *frame.Frame) {
		mu.Lock()
		delivered = append(delivered, f.ID())
		mu.Unlock()
		if f.ID() == 1 {
			close(entered)
			<-release
		}
	}))

	require.NoError(t, q.Start())
	q.Add(newFrame(t, 1))
	<-entered

	for id := uint16(2); id <= 5; id++ {
		q.Add(newFrame(t, id))
	}
	require.Equal(t, 4, q.Len())

	q.Stop()
	close(release)
	select {
	case <-q.Done():
	case <-time.After(waitTimeout):
		t.Fatal("dispatch loop did not exit after Stop")
	}

	mu.Lock()
	assert.Equal(t, []uint16{1}, delivered, "in-flight cycle completes, nothing more")
	mu.Unlock()
	assert.Equal(t, 4, q.Len(), "frames added during the cycle stay buffered")

	r := newRecorder()
	q.AddListener(r)
	require.NoError(t, q.Start())
	assert.Equal(t, []uint16{2, 3, 4, 5}, r.await(t, 4))
	stopAndWait(t, q)
}

func TestQueue_UnboundedGrowthWithSlowConsumer(t *testing.T) {
	const backlog = 5000

	q := New()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	r := newRecorder()
	q.AddListener(ConsumerFunc(func(f *frame.Frame) {
		if f.ID() == 0 {
			entered <- struct{}{}
			<-release
		}
	}))
	q.AddListener(r)
	require.NoError(t, q.Start())

	q.Add(newFrame(t, 0))
	<-entered

	frames := make([]*frame.Frame, backlog)
	for i := range frames {
		frames[i] = newFrame(t, uint16(i+1))
	}

	// Add never blocks, however far behind the consumer is.
	done := make(chan struct{})
	go func() {
		for _, f := range frames {
			q.Add(f)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Add blocked behind a stalled consumer")
	}
	assert.Equal(t, backlog, q.Len())

	close(release)
	got := r.await(t, backlog+1)
	for i, id := range got {
		require.Equal(t, uint16(i), id, "out of order at %d", i)
	}
	stopAndWait(t, q)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RemoveListener(t *testing.T) {
	q := New()
	a, b := newRecorder(), newRecorder()
	q.AddListener(a)
	idB := q.AddListener(b)

	require.NoError(t, q.RemoveListener(idB))
	assert.Equal(t, 1, q.Listeners())

	err := q.RemoveListener(idB)
	assert.True(t, errors.Is(err, ErrListenerNotFound), "got %v", err)

	require.NoError(t, q.Start())
	q.Add(newFrame(t, 3))
	a.await(t, 1)
	stopAndWait(t, q)
	assert.Empty(t, b.received())
}

func TestQueue_LateListenerMissesDispatchedFrames(t *testing.T) {
	q := New()
	early := newRecorder()
	q.AddListener(early)
	require.NoError(t, q.Start())

	q.Add(newFrame(t, 1))
	early.await(t, 1)

	late := newRecorder()
	q.AddListener(late)
	q.Add(newFrame(t, 2))

	assert.Equal(t, []uint16{2}, late.await(t, 1))
	assert.Equal(t, []uint16{2}, early.await(t, 1))
	stopAndWait(t, q)
	assert.Equal(t, []uint16{2}, late.received())
}

func TestQueue_ListenerPanicDoesNotStopDispatch(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	monitoring.SetLogger(nil)

	q := New()
	q.AddListener(ConsumerFunc(func(*frame.Frame) { panic("boom") }))
	r := newRecorder()
	q.AddListener(r)

	require.NoError(t, q.Start())
	q.Add(newFrame(t, 1))
	q.Add(newFrame(t, 2))
	assert.Equal(t, []uint16{1, 2}, r.await(t, 2))
	stopAndWait(t, q)
}

func TestQueue_NilFrameIgnored(t *testing.T) {
	q := New()
	q.Add(nil)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := New(WithRegisterer(reg), WithName("test"))
	r := newRecorder()
	q.AddListener(r)

	q.Add(newFrame(t, 1))
	q.Add(newFrame(t, 2))
	assert.Equal(t, 2.0, gathered(t, reg, "depthcam_queue_depth"))
	assert.Equal(t, 1.0, gathered(t, reg, "depthcam_queue_listeners"))

	require.NoError(t, q.Start())
	r.await(t, 2)
	stopAndWait(t, q)

	assert.Equal(t, 2.0, gathered(t, reg, "depthcam_queue_frames_added_total"))
	assert.Equal(t, 2.0, gathered(t, reg, "depthcam_queue_frames_dispatched_total"))
	assert.Equal(t, 0.0, gathered(t, reg, "depthcam_queue_depth"))
}

func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
