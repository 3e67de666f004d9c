package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfbatcher/internal/batch"
	"github.com/local/pdfbatcher/internal/limiter"
	"github.com/local/pdfbatcher/internal/orchestrator"
)

type delayed struct {
	payload []byte
	at      time.Time
}

type fakeQueue struct {
	mu        sync.Mutex
	acked     []string
	delayed   []delayed
	dlq       []string
	cancelled map[string]bool
	idem      map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{cancelled: map[string]bool{}, idem: map[string]bool{}}
}

func (q *fakeQueue) Dequeue(context.Context, string, time.Duration) (string, []byte, error) {
	return "", nil, nil
}

func (q *fakeQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) EnqueueDelayed(_ context.Context, p []byte, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, delayed{payload: p, at: at})
	return nil
}

func (q *fakeQueue) IsCancelled(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[id], nil
}

func (q *fakeQueue) cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[id] = true
}

func (q *fakeQueue) AddDLQ(_ context.Context, _ []byte, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, reason)
	return nil
}

func (q *fakeQueue) IsIdemDone(_ context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idem[key], nil
}

func (q *fakeQueue) MarkIdemDone(_ context.Context, key string, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idem[key] = true
	return nil
}

func (q *fakeQueue) Depths(context.Context) (int64, int64, int64, error) {
	return 0, int64(len(q.delayed)), int64(len(q.dlq)), nil
}

type runFunc func(ctx context.Context, job orchestrator.Job, progress orchestrator.ProgressFunc) (*orchestrator.Report, error)

type fakeRunner struct {
	calls int
	fn    runFunc
}

func (r *fakeRunner) Run(ctx context.Context, job orchestrator.Job, progress orchestrator.ProgressFunc) (*orchestrator.Report, error) {
	r.calls++
	return r.fn(ctx, job, progress)
}

type memStatus struct {
	mu      sync.Mutex
	m       map[string]orchestrator.Status
	history []string
}

func (s *memStatus) Set(_ context.Context, id string, st orchestrator.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = st
	s.history = append(s.history, st.Status)
	return nil
}

func (s *memStatus) Get(_ context.Context, id string) (orchestrator.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	return st, ok, nil
}

type memResults struct {
	m map[string][]orchestrator.Result
}

func (s *memResults) SaveResult(_ context.Context, id string, r orchestrator.Result) error {
	s.m[id] = append(s.m[id], r)
	return nil
}

func (s *memResults) Results(_ context.Context, id string) ([]orchestrator.Result, error) {
	return s.m[id], nil
}

type harness struct {
	w       *Worker
	q       *fakeQueue
	run     *fakeRunner
	status  *memStatus
	results *memResults
}

func newHarness(t *testing.T, fn runFunc) *harness {
	t.Helper()
	h := &harness{
		q:       newFakeQueue(),
		run:     &fakeRunner{fn: fn},
		status:  &memStatus{m: map[string]orchestrator.Status{}},
		results: &memResults{m: map[string][]orchestrator.Result{}},
	}
	h.w = New(Config{MaxAttempts: 3, RetryBackoff: time.Minute, CancelPoll: 5 * time.Millisecond, WorkDir: t.TempDir()},
		h.q, h.run, h.status, h.results, nil)
	return h
}

func payload(t *testing.T, job orchestrator.Job) []byte {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return b
}

var fixedJob = orchestrator.Job{ID: "j1", Inputs: []string{"in.pdf"}, Output: "out", Mode: orchestrator.ModeFixed, BatchSize: 2, Attempt: 1}

func reportWith(failed int) *orchestrator.Report {
	rep := &orchestrator.Report{Plan: batch.Plan{{Start: 1, End: 2}, {Start: 3, End: 4}}}
	rep.Written = []orchestrator.Result{{Index: 1, Batch: batch.Batch{Start: 1, End: 2}, Path: "out_Batch_1.pdf"}}
	for i := 0; i < failed; i++ {
		rep.Failed = append(rep.Failed, orchestrator.Result{Index: 2 + i, Batch: batch.Batch{Start: 3, End: 4}, Error: "disk full", Err: errors.New("disk full")})
	}
	return rep
}

func TestHandle_Success(t *testing.T) {
	h := newHarness(t, func(_ context.Context, _ orchestrator.Job, progress orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		progress(orchestrator.Event{Stage: orchestrator.StageMaterialize, Done: 1, Total: 2})
		return reportWith(0), nil
	})

	h.w.handle(context.Background(), "1-0", payload(t, fixedJob))

	st, _, _ := h.status.Get(context.Background(), "j1")
	assert.Equal(t, orchestrator.StateSuccess, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Contains(t, h.status.history, orchestrator.StateProcessing)
	assert.Len(t, h.results.m["j1"], 1)
	assert.True(t, h.q.idem["batch:j1"])
	assert.Equal(t, []string{"1-0"}, h.q.acked)
}

func TestHandle_Partial(t *testing.T) {
	h := newHarness(t, func(context.Context, orchestrator.Job, orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		return reportWith(1), nil
	})

	h.w.handle(context.Background(), "1-0", payload(t, fixedJob))

	st, _, _ := h.status.Get(context.Background(), "j1")
	assert.Equal(t, orchestrator.StatePartial, st.Status)
	assert.Len(t, h.results.m["j1"], 2)
	assert.Empty(t, h.q.dlq)
}

func TestHandle_FatalGoesToDLQ(t *testing.T) {
	h := newHarness(t, func(context.Context, orchestrator.Job, orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		return nil, fmt.Errorf("batch size 0: %w", batch.ErrInvalidBatchSize)
	})

	h.w.handle(context.Background(), "1-0", payload(t, fixedJob))

	st, _, _ := h.status.Get(context.Background(), "j1")
	assert.Equal(t, orchestrator.StateFailed, st.Status)
	require.Len(t, h.q.dlq, 1)
	assert.Contains(t, h.q.dlq[0], "fatal")
	assert.Empty(t, h.q.delayed)
	assert.Len(t, h.q.acked, 1)
}

func TestHandle_TransientIsRetried(t *testing.T) {
	h := newHarness(t, func(context.Context, orchestrator.Job, orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.w.now = func() time.Time { return now }

	h.w.handle(context.Background(), "1-0", payload(t, fixedJob))

	require.Len(t, h.q.delayed, 1)
	assert.Equal(t, now.Add(time.Minute), h.q.delayed[0].at)
	var next orchestrator.Job
	require.NoError(t, json.Unmarshal(h.q.delayed[0].payload, &next))
	assert.Equal(t, 2, next.Attempt)
	assert.Empty(t, h.q.dlq)
	st, _, _ := h.status.Get(context.Background(), "j1")
	assert.Equal(t, orchestrator.StateQueued, st.Status)
}

func TestHandle_AttemptsExhausted(t *testing.T) {
	h := newHarness(t, func(context.Context, orchestrator.Job, orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		return nil, errors.New("read: connection reset by peer")
	})
	job := fixedJob
	job.Attempt = 3

	h.w.handle(context.Background(), "1-0", payload(t, job))

	assert.Empty(t, h.q.delayed)
	require.Len(t, h.q.dlq, 1)
	assert.Contains(t, h.q.dlq[0], "attempts exhausted")
}

func TestHandle_SkipsCancelledAndDuplicate(t *testing.T) {
	h := newHarness(t, func(context.Context, orchestrator.Job, orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		return reportWith(0), nil
	})
	h.q.cancel("j1")
	h.w.handle(context.Background(), "1-0", payload(t, fixedJob))

	other := fixedJob
	other.ID = "j2"
	h.q.idem["batch:j2"] = true
	h.w.handle(context.Background(), "2-0", payload(t, other))

	assert.Equal(t, 0, h.run.calls)
	assert.Len(t, h.q.acked, 2)
}

func TestHandle_InvalidPayload(t *testing.T) {
	h := newHarness(t, nil)
	h.w.handle(context.Background(), "1-0", []byte("{"))

	assert.Equal(t, []string{"invalid payload"}, h.q.dlq)
	assert.Len(t, h.q.acked, 1)
}

func TestHandle_HoldsSlotWhileRunning(t *testing.T) {
	var h *harness
	var during int
	h = newHarness(t, func(context.Context, orchestrator.Job, orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		during = h.w.limits.Inflight(string(orchestrator.ModeFixed))
		return reportWith(0), nil
	})

	h.w.handle(context.Background(), "1-0", payload(t, fixedJob))

	assert.Equal(t, 1, during)
	assert.Equal(t, 0, h.w.limits.Inflight(string(orchestrator.ModeFixed)))
}

func TestHandle_DefersWhenNoSlot(t *testing.T) {
	h := newHarness(t, func(context.Context, orchestrator.Job, orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		return reportWith(0), nil
	})
	h.w.limits = limiter.New(limiter.Options{MaxInflight: map[string]int{"similarity": 1}, Defer: time.Second})
	release, ok := h.w.limits.Allow("similarity")
	require.True(t, ok)
	defer release()

	job := fixedJob
	job.Mode = orchestrator.ModeSimilarity
	job.MasterPage = 1
	h.w.handle(context.Background(), "1-0", payload(t, job))

	assert.Equal(t, 0, h.run.calls)
	assert.Len(t, h.q.delayed, 1)
}

func TestHandle_CancelledWhileRunning(t *testing.T) {
	var h *harness
	h = newHarness(t, func(ctx context.Context, job orchestrator.Job, _ orchestrator.ProgressFunc) (*orchestrator.Report, error) {
		h.q.cancel(job.ID)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	h.w.handle(context.Background(), "1-0", payload(t, fixedJob))

	st, _, _ := h.status.Get(context.Background(), "j1")
	assert.Equal(t, orchestrator.StateCancelled, st.Status)
	assert.Empty(t, h.q.dlq)
	assert.Empty(t, h.q.delayed)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, nil)
	h.w.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, h.w.Stop(ctx))
}
