package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRenderer fails a configurable number of times before succeeding.
type stubRenderer struct {
	mu       sync.Mutex
	failures int
	calls    int
	panics   bool
}

func (r *stubRenderer) Render(_ context.Context, responseID string, _ []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.panics {
		panic("renderer crashed")
	}
	if r.calls <= r.failures {
		return "", errors.New("render blew up")
	}
	return fmt.Sprintf("/api/pdf/download/sugb-report-%s-%d.pdf", responseID, r.calls), nil
}

func (r *stubRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestQueue(renderer Renderer, opts ...Option) (*Queue, *MemStore) {
	store := NewMemStore()
	opts = append([]Option{WithJobDelay(0)}, opts...)
	return New(store, renderer, opts...), store
}

func TestEnqueueAndDrainRoundTrip(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{}
	q, _ := newTestQueue(renderer)

	jobID, err := q.Enqueue(ctx, "response-1", []byte(`{"format":"A4"}`))
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.NoError(t, q.Drain(ctx))

	info, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, 1, info.Attempts)
	assert.NotEmpty(t, info.ArtifactRef)
	assert.NotNil(t, info.CompletedAt)
	assert.Empty(t, info.Error)
}

func TestRetryThenSucceed(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{failures: 2} // maxAttempts-1 failures
	q, _ := newTestQueue(renderer, WithMaxAttempts(3))

	jobID, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx))

	info, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, 3, info.Attempts)
	assert.Equal(t, 3, renderer.callCount())
}

func TestExhaustedAttemptsFail(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{failures: 100}
	q, _ := newTestQueue(renderer, WithMaxAttempts(3))

	jobID, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx))

	info, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, info.Status)
	assert.Equal(t, 3, info.Attempts, "attempts counter must equal max attempts")
	assert.Equal(t, 3, renderer.callCount())
	assert.Equal(t, "render blew up", info.Error)
	assert.Empty(t, info.ArtifactRef)
}

func TestRendererPanicIsContained(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{panics: true}
	q, _ := newTestQueue(renderer, WithMaxAttempts(2))

	jobID, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx), "a panicking renderer must not abort the drain loop")

	info, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, info.Status)
	assert.Contains(t, info.Error, "renderer panic")
}

func TestFailedJobDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{failures: 1} // first attempt fails, all later ones succeed
	q, _ := newTestQueue(renderer, WithMaxAttempts(1))

	first, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // keep creation order unambiguous
	second, err := q.Enqueue(ctx, "response-2", nil)
	require.NoError(t, err)

	require.NoError(t, q.Drain(ctx))

	firstInfo, err := q.GetStatus(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, firstInfo.Status)

	secondInfo, err := q.GetStatus(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, secondInfo.Status)
}

func TestConcurrentDrainersProcessJobOnce(t *testing.T) {
	ctx := context.Background()
	var renders int32
	renderer := renderFunc(func(context.Context, string, []byte) (string, error) {
		atomic.AddInt32(&renders, 1)
		time.Sleep(10 * time.Millisecond) // widen the race window
		return "/api/pdf/download/x.pdf", nil
	})
	q, _ := newTestQueue(renderer)

	jobID, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Drain(ctx))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&renders), "the job must never be rendered twice")

	info, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, 1, info.Attempts)
}

type renderFunc func(ctx context.Context, responseID string, options []byte) (string, error)

func (f renderFunc) Render(ctx context.Context, responseID string, options []byte) (string, error) {
	return f(ctx, responseID, options)
}

func TestStatusFallsBackToResponseArtifact(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(&stubRenderer{})

	// an older completed generation already produced an artifact
	store.mu.Lock()
	store.artifacts["response-1"] = "/api/pdf/download/old.pdf"
	store.mu.Unlock()

	jobID, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)

	info, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, info.Status)
	assert.Equal(t, "/api/pdf/download/old.pdf", info.ArtifactRef)
}

func TestGetStatusUnknownJob(t *testing.T) {
	q, _ := newTestQueue(&stubRenderer{})
	_, err := q.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestReclaimStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	old := time.Now().Add(-time.Hour)
	job := &Job{ID: "stuck", ResponseID: "r", Type: TypePDFGeneration, Status: StatusPending, MaxAttempts: 3, CreatedAt: old}
	require.NoError(t, store.Insert(ctx, job))
	claimed, err := store.Claim(ctx, "stuck", old)
	require.NoError(t, err)
	require.True(t, claimed)

	// a drain with reclaiming enabled requeues and finishes the job
	q := New(store, &stubRenderer{}, WithJobDelay(0), WithStaleAfter(time.Minute))
	require.NoError(t, q.Drain(ctx))

	info, err := q.GetStatus(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
}

func TestReclaimedLastAttemptEndsFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	old := time.Now().Add(-time.Hour)
	job := &Job{ID: "stuck", ResponseID: "r", Type: TypePDFGeneration, Status: StatusPending, MaxAttempts: 1, CreatedAt: old}
	require.NoError(t, store.Insert(ctx, job))
	claimed, err := store.Claim(ctx, "stuck", old)
	require.NoError(t, err)
	require.True(t, claimed)

	// the crashed attempt was the last one: the reclaim must make the
	// job terminal instead of parking it as an unclaimable pending job
	q := New(store, &stubRenderer{}, WithJobDelay(0), WithStaleAfter(time.Minute), WithMaxAttempts(1))
	require.NoError(t, q.Drain(ctx))

	info, err := q.GetStatus(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, info.Status)
	assert.True(t, info.Status.Terminal())
	assert.Equal(t, "processing timed out", info.Error)
}

func TestReleaseDecidesFromStoredAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	job := &Job{ID: "j", ResponseID: "r", Type: TypePDFGeneration, Status: StatusPending, MaxAttempts: 1, CreatedAt: time.Now()}
	require.NoError(t, store.Insert(ctx, job))
	claimed, err := store.Claim(ctx, "j", time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	// a drainer that read the job before this claim would consider the
	// attempt non-final; the store must not let it requeue the job
	require.NoError(t, store.Release(ctx, "j", "boom"))

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestPollerStopsOnTerminalStatus(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(&stubRenderer{})

	jobID, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx))

	poller := q.PollStatus(ctx, jobID, 5*time.Millisecond)

	var last StatusInfo
	for info := range poller.Updates() {
		last = info
	}
	assert.Equal(t, StatusCompleted, last.Status, "poller must deliver the terminal status and close")
}

func TestPollerStop(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(&stubRenderer{})

	jobID, err := q.Enqueue(ctx, "response-1", nil)
	require.NoError(t, err)

	// job stays pending: the poller only ends when stopped
	poller := q.PollStatus(ctx, jobID, 5*time.Millisecond)
	<-poller.Updates()
	poller.Stop()

	select {
	case _, open := <-drainUpdates(poller):
		assert.False(t, open, "updates channel must close after Stop")
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

// drainUpdates consumes buffered updates until the channel closes.
func drainUpdates(p *Poller) <-chan StatusInfo {
	out := make(chan StatusInfo)
	go func() {
		defer close(out)
		for range p.Updates() {
		}
	}()
	return out
}
