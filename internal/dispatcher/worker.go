package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/limiter"
	"github.com/local/pdfbatcher/internal/logger"
	"github.com/local/pdfbatcher/internal/metrics"
	"github.com/local/pdfbatcher/internal/orchestrator"
)

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	AddDLQ(ctx context.Context, payload []byte, reason string) error
	IsIdemDone(ctx context.Context, key string) (bool, error)
	MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
	Depths(ctx context.Context) (int64, int64, int64, error)
}

// PassRunner executes one batching pass.
type PassRunner interface {
	Run(ctx context.Context, job orchestrator.Job, progress orchestrator.ProgressFunc) (*orchestrator.Report, error)
}

type Config struct {
	Concurrency  int
	JobTimeout   time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	// WorkDir is swept for stale temp files after every job.
	WorkDir    string
	TempMaxAge time.Duration
	// CancelPoll is how often a running job checks for cancellation.
	CancelPoll time.Duration
	Consumer   string
}

type Worker struct {
	cfg     Config
	q       Queue
	runner  PassRunner
	status  orchestrator.StatusStore
	results orchestrator.ResultStore
	limits  *limiter.Adaptive
	stop    chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(cfg Config, q Queue, runner PassRunner, status orchestrator.StatusStore, results orchestrator.ResultStore, limits *limiter.Adaptive) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = time.Hour
	}
	if cfg.CancelPoll <= 0 {
		cfg.CancelPoll = time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "batcher"
	}
	if limits == nil {
		limits = limiter.New(limiter.Options{DefaultMax: cfg.Concurrency})
	}
	return &Worker{cfg: cfg, q: q, runner: runner, status: status, results: results, limits: limits, stop: make(chan struct{}), now: time.Now}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	w.wg.Add(1)
	go w.depthLoop()
}

// Stop signals the loops and waits for in-flight jobs or ctx.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("%s-%d", w.cfg.Consumer, id)
	log.Info().Int("worker", id).Msg("dispatcher worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msgID, data, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if data == nil {
			continue
		}
		w.handle(context.Background(), msgID, data)
	}
}

func (w *Worker) depthLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.recordDepths(context.Background())
		}
	}
}

func (w *Worker) recordDepths(ctx context.Context) {
	stream, delayed, dlq, err := w.q.Depths(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("queue depth read failed")
		return
	}
	metrics.SetQueueDepth("stream", stream)
	metrics.SetQueueDepth("delayed", delayed)
	metrics.SetQueueDepth("dlq", dlq)
}

func idemKey(job orchestrator.Job) string { return "batch:" + job.ID }

// handle settles one queue message. The message is always acked; retries go
// through the delayed set with a bumped attempt.
func (w *Worker) handle(ctx context.Context, msgID string, data []byte) {
	defer func() {
		if err := w.q.Ack(ctx, msgID); err != nil {
			log.Warn().Err(err).Str("msg_id", msgID).Msg("ack failed")
		}
	}()

	var job orchestrator.Job
	if err := json.Unmarshal(data, &job); err != nil || job.ID == "" {
		log.Error().Err(err).Str("msg_id", msgID).Msg("invalid job payload")
		_ = w.q.AddDLQ(ctx, data, "invalid payload")
		return
	}
	jlog := logger.WithJob(job.ID)

	if cancelled, _ := w.q.IsCancelled(ctx, job.ID); cancelled {
		jlog.Warn().Msg("job cancelled before processing; skipping")
		return
	}
	if done, _ := w.q.IsIdemDone(ctx, idemKey(job)); done {
		jlog.Info().Msg("job already completed; skipping duplicate")
		return
	}

	mode := string(job.Mode)
	release, ok := w.limits.Allow(mode)
	if !ok {
		jlog.Debug().Str("mode", mode).Msg("no slot free; deferring job")
		if err := w.q.EnqueueDelayed(ctx, data, w.now().Add(w.limits.Defer)); err != nil {
			jlog.Error().Err(err).Msg("defer failed")
		}
		return
	}
	metrics.SetInflight(mode, w.limits.Inflight(mode))
	defer func() {
		release()
		metrics.SetInflight(mode, w.limits.Inflight(mode))
	}()

	w.process(ctx, job, data)
	orchestrator.CleanupTemps(w.cfg.WorkDir, w.cfg.TempMaxAge)
}

func (w *Worker) process(ctx context.Context, job orchestrator.Job, data []byte) {
	jlog := logger.WithJob(job.ID)
	start := w.now()
	meta := map[string]any{"mode": string(job.Mode), "attempt": job.Attempt}
	_ = w.status.Set(ctx, job.ID, orchestrator.Status{Status: orchestrator.StateProcessing, Message: "processing", Start: &start, Metadata: meta})

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()
	var cancelled bool
	var cmu sync.Mutex
	stopWatch := w.watchCancel(jobCtx, job.ID, func() {
		cmu.Lock()
		cancelled = true
		cmu.Unlock()
		cancel()
	})
	defer stopWatch()

	last := -1
	rep, err := w.runner.Run(jobCtx, job, func(ev orchestrator.Event) {
		pct := orchestrator.ProgressPercent(ev)
		if pct == last {
			return
		}
		last = pct
		_ = w.status.Set(ctx, job.ID, orchestrator.Status{
			Status:   orchestrator.StateProcessing,
			Progress: pct,
			Message:  fmt.Sprintf("%s %d/%d", ev.Stage, ev.Done, ev.Total),
			Start:    &start,
			Metadata: meta,
		})
	})
	stopWatch()

	cmu.Lock()
	wasCancelled := cancelled
	cmu.Unlock()
	end := w.now()

	switch {
	case wasCancelled:
		jlog.Warn().Msg("job cancelled while running")
		_ = w.status.Set(ctx, job.ID, orchestrator.Status{Status: orchestrator.StateCancelled, Message: "Cancelled", Start: &start, End: &end, Metadata: meta})
	case err != nil:
		w.fail(ctx, job, data, err, start)
	default:
		for _, r := range append(append([]orchestrator.Result{}, rep.Written...), rep.Failed...) {
			if serr := w.results.SaveResult(ctx, job.ID, r); serr != nil {
				jlog.Warn().Err(serr).Int("batch", r.Index).Msg("saving batch result failed")
			}
		}
		state := orchestrator.FinalState(rep, nil)
		summary := orchestrator.Summary(rep)
		summary["attempt"] = job.Attempt
		_ = w.status.Set(ctx, job.ID, orchestrator.Status{
			Status:   state,
			Progress: 100,
			Message:  fmt.Sprintf("%d batches written, %d failed", len(rep.Written), len(rep.Failed)),
			Start:    &start,
			End:      &end,
			Metadata: summary,
		})
		_ = w.q.MarkIdemDone(ctx, idemKey(job), 24*time.Hour)
		jlog.Info().Str("state", state).Dur("took", end.Sub(start)).Msg("job settled")
	}
}

// fail either schedules a retry or settles the job as failed.
func (w *Worker) fail(ctx context.Context, job orchestrator.Job, data []byte, err error, start time.Time) {
	jlog := logger.WithJob(job.ID)
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	if shouldRetry(err) && attempt < w.cfg.MaxAttempts {
		job.Attempt = attempt + 1
		payload, _ := json.Marshal(job)
		at := w.now().Add(w.cfg.RetryBackoff * time.Duration(attempt))
		qerr := w.q.EnqueueDelayed(ctx, payload, at)
		if qerr == nil {
			metrics.IncRetry()
			jlog.Warn().Err(err).Int("attempt", job.Attempt).Time("retry_at", at).Msg("transient failure; retry scheduled")
			_ = w.status.Set(ctx, job.ID, orchestrator.Status{
				Status:   orchestrator.StateQueued,
				Message:  fmt.Sprintf("retry %d scheduled: %v", job.Attempt, err),
				Start:    &start,
				Metadata: map[string]any{"mode": string(job.Mode), "attempt": job.Attempt},
			})
			return
		}
		jlog.Error().Err(qerr).Msg("retry enqueue failed")
	}

	reason := "fatal"
	if !isFatalError(err) {
		reason = "attempts exhausted"
	}
	jlog.Error().Err(err).Str("reason", reason).Int("attempt", attempt).Msg("job failed")
	_ = w.q.AddDLQ(ctx, data, fmt.Sprintf("%s: %v", reason, err))
	end := w.now()
	_ = w.status.Set(ctx, job.ID, orchestrator.Status{
		Status:   orchestrator.StateFailed,
		Progress: 100,
		Message:  err.Error(),
		Start:    &start,
		End:      &end,
		Metadata: map[string]any{"mode": string(job.Mode), "attempt": attempt, "reason": reason},
	})
}

// watchCancel polls the cancel set while a job runs. The returned stop func
// is safe to call more than once.
func (w *Worker) watchCancel(ctx context.Context, jobID string, onCancel func()) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(w.cfg.CancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c, err := w.q.IsCancelled(ctx, jobID); err == nil && c {
					onCancel()
					return
				} else if err != nil && !errors.Is(err, context.Canceled) {
					log.Debug().Err(err).Str("job_id", jobID).Msg("cancel check failed")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
