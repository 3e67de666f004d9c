package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/batch"
)

// Job states stored in the status record.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateSuccess    = "success"
	StatePartial    = "partial"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	CancelJob(ctx context.Context, jobID string) error
}

type Status struct {
	Status   string
	Progress int
	Message  string
	Start    *time.Time
	End      *time.Time
	Metadata map[string]any
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st Status) error
	Get(ctx context.Context, jobID string) (Status, bool, error)
}

// ResultStore keeps the per-batch outcome of finished passes.
type ResultStore interface {
	SaveResult(ctx context.Context, jobID string, r Result) error
	Results(ctx context.Context, jobID string) ([]Result, error)
}

type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Results ResultStore
	// FileRoot confines the local inputs and output of submitted jobs.
	// Empty allows remote inputs only, which leaves no valid output.
	FileRoot string
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	if deps.FileRoot != "" {
		if abs, err := filepath.Abs(deps.FileRoot); err == nil {
			deps.FileRoot = abs
		}
	}
	return &Orchestrator{deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/batch_jobs", o.handleSubmit)
	mux.HandleFunc("/progress/", o.handleProgress)
	mux.HandleFunc("/results/", o.handleResults)
	mux.HandleFunc("/cancel_job", o.handleCancelJob)
}

type submitResp struct {
	Status   string         `json:"status"`
	JobID    string         `json:"job_id"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type errorResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (o *Orchestrator) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var job Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	if err := job.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := confineJob(o.deps.FileRoot, &job); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			log.Error().Err(err).Msg("file root check failed")
			writeJSON(w, http.StatusInternalServerError, errorResp{Error: "file root unavailable"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	job.ID = uuid.NewString()
	job.Attempt = 1

	start := time.Now()
	meta := map[string]any{
		"mode":   string(job.Mode),
		"inputs": len(job.Inputs),
		"output": job.Output,
	}
	if err := o.deps.Status.Set(r.Context(), job.ID, Status{Status: StateQueued, Message: "queued", Start: &start, Metadata: meta}); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("status write failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "status store unavailable"})
		return
	}

	data, _ := json.Marshal(job)
	if err := o.deps.Queue.Enqueue(r.Context(), data); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		end := time.Now()
		_ = o.deps.Status.Set(r.Context(), job.ID, Status{Status: StateFailed, Message: "queue unavailable", Start: &start, End: &end, Metadata: meta})
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "queue unavailable"})
		return
	}
	log.Info().Str("job_id", job.ID).Str("mode", string(job.Mode)).Int("inputs", len(job.Inputs)).Msg("job created")

	writeJSON(w, http.StatusCreated, submitResp{
		Status:   "ok",
		JobID:    job.ID,
		Message:  "Batch job created successfully",
		Metadata: map[string]any{"timestamp": start.Format(time.RFC3339)},
	})
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/progress/")
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    st.Status == StateSuccess,
		"job_id":     id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}

func (o *Orchestrator) handleResults(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/results/")
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if !isTerminal(st.Status) {
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": st.Status, "progress": st.Progress})
		return
	}
	results, err := o.deps.Results.Results(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	written, failed := 0, 0
	for _, res := range results {
		if res.Error == "" {
			written++
		} else {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  id,
		"status":  st.Status,
		"written": written,
		"failed":  failed,
		"batches": results,
	})
}

func isTerminal(state string) bool {
	switch state {
	case StateSuccess, StatePartial, StateFailed, StateCancelled:
		return true
	}
	return false
}

type cancelReq struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

func (o *Orchestrator) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	// mark cancelled in queue store
	if err := o.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	st, ok, _ := o.deps.Status.Get(r.Context(), req.JobID)
	if !ok {
		st = Status{}
	}
	st.Status = StateCancelled
	if req.Reason != "" {
		st.Message = fmt.Sprintf("Cancelled: %s", req.Reason)
	} else {
		st.Message = "Cancelled"
	}
	now := time.Now()
	st.End = &now
	_ = o.deps.Status.Set(r.Context(), req.JobID, st)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": req.JobID, "status": StateCancelled})
}

// ProgressPercent maps a pass event onto the 0..100 progress scale. Opening
// takes the first tenth, planning up to 60, writing batches up to 95.
func ProgressPercent(ev Event) int {
	frac := func(lo, hi int) int {
		if ev.Total <= 0 {
			return lo
		}
		done := ev.Done
		if done > ev.Total {
			done = ev.Total
		}
		return lo + (hi-lo)*done/ev.Total
	}
	switch ev.Stage {
	case StageOpen:
		return frac(0, 10)
	case StageCoalesce:
		return 10
	case StagePlan:
		return frac(10, 60)
	case StageMaterialize:
		return frac(60, 95)
	case StagePublish, StageCleanup:
		return 95
	}
	return 0
}

// FinalState is the status a settled pass is stored with.
func FinalState(rep *Report, err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return StateCancelled
	case err != nil:
		return StateFailed
	case len(rep.Failed) > 0:
		return StatePartial
	}
	return StateSuccess
}

// Summary is the status metadata of a settled pass.
func Summary(rep *Report) map[string]any {
	if rep == nil {
		return map[string]any{}
	}
	return map[string]any{
		"pages":       rep.Pages,
		"batches":     len(rep.Plan),
		"written":     len(rep.Written),
		"failed":      len(rep.Failed),
		"coalesced":   rep.Coalesced,
		"warnings":    rep.Warnings,
		"duration_ms": rep.Duration.Milliseconds(),
		"plan":        planSelections(rep.Plan),
	}
}

func planSelections(p batch.Plan) []string {
	out := make([]string, 0, len(p))
	for _, b := range p {
		out = append(out, b.Selection())
	}
	return out
}
