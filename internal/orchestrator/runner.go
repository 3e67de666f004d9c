package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/batch"
	"github.com/local/pdfbatcher/internal/document"
	"github.com/local/pdfbatcher/internal/metrics"
)

// DocumentService is the document side of a pass.
type DocumentService interface {
	RangeExtractor
	Concatenator
	Open(ctx context.Context, ref string) (*document.Document, error)
	Close(doc *document.Document) error
}

// Renderer rasterizes pages of one opened document.
type Renderer interface {
	batch.PageRenderer
	Close() error
}

// RendererOpener opens a Renderer for a local PDF.
type RendererOpener func(path string) (Renderer, error)

// Publisher copies a written batch somewhere durable and returns its URL.
type Publisher interface {
	Upload(ctx context.Context, key, path string) (string, error)
}

// Stage names reported to the progress observer.
const (
	StageOpen        = "open"
	StageCoalesce    = "coalesce"
	StagePlan        = "plan"
	StageMaterialize = "materialize"
	StagePublish     = "publish"
	StageCleanup     = "cleanup"
)

// Event is one unit of pass progress.
type Event struct {
	JobID string
	Stage string
	Done  int
	Total int
	Score float64
	Match bool
}

// ProgressFunc observes a pass. It runs on the pass goroutine.
type ProgressFunc func(Event)

// Report is what a pass produced.
type Report struct {
	JobID     string        `json:"job_id"`
	Mode      Mode          `json:"mode"`
	Pages     int           `json:"pages"`
	Coalesced bool          `json:"coalesced"`
	Plan      batch.Plan    `json:"plan"`
	Written   []Result      `json:"written"`
	Failed    []Result      `json:"failed"`
	Warnings  []string      `json:"warnings,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Split sorts results into Written and Failed.
func (r *Report) Split(results []Result) {
	r.Written, r.Failed = []Result{}, []Result{}
	for _, res := range results {
		if res.OK() {
			r.Written = append(r.Written, res)
		} else {
			r.Failed = append(r.Failed, res)
		}
	}
}

func (r *Report) warn(err error) {
	r.Warnings = append(r.Warnings, err.Error())
}

// Runner executes passes: coalesce, plan, materialize, cleanup.
type Runner struct {
	Docs         DocumentService
	OpenRenderer RendererOpener
	Remover      *Remover
	// DPI of similarity comparisons; zero uses the planner default.
	DPI float64
	// Tolerance applies when the job does not carry one; nil uses the
	// planner default.
	Tolerance *float64
	// Publisher, when set, receives every written batch under PublishPrefix/<job id>/.
	Publisher     Publisher
	PublishPrefix string
}

// Run executes one pass. Planning errors abort the pass and return a nil
// report. Per-batch extraction failures, publish failures and cleanup
// failures are collected in the report instead.
func (r *Runner) Run(ctx context.Context, job Job, progress ProgressFunc) (*Report, error) {
	start := time.Now()
	rep, err := r.run(ctx, job, progress)
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case len(rep.Failed) > 0:
		result = "partial"
	}
	metrics.ObservePass(string(job.Mode), result, time.Since(start))
	if rep != nil {
		rep.Duration = time.Since(start)
	}
	return rep, err
}

func (r *Runner) run(ctx context.Context, job Job, progress ProgressFunc) (*Report, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	emit := func(ev Event) {
		ev.JobID = job.ID
		if progress != nil {
			progress(ev)
		}
	}
	logger := log.With().Str("job_id", job.ID).Str("mode", string(job.Mode)).Logger()
	rep := &Report{JobID: job.ID, Mode: job.Mode, Written: []Result{}, Failed: []Result{}}

	docs, err := r.openAll(ctx, job.Inputs, emit)
	if err != nil {
		return nil, err
	}
	// downloads and conversions are ours and always go
	defer func() {
		for _, d := range docs {
			if cerr := r.Docs.Close(d); cerr != nil {
				rep.warn(cerr)
			}
		}
	}()

	if job.Mode == ModeConcat {
		return r.concat(ctx, job, docs, rep, emit)
	}

	emit(Event{Stage: StageCoalesce, Total: len(docs)})
	src, coalesced, err := Coalesce(ctx, r.Docs, docs, IntermediatePath(job.Output))
	if err != nil {
		return nil, err
	}
	rep.Coalesced = coalesced
	rep.Pages = src.Pages

	plan, name, err := r.plan(ctx, job, src, emit)
	if err == nil {
		// the renderer and the document service count pages independently
		err = plan.Validate(src.Pages)
	}
	if err != nil {
		if coalesced {
			r.removeSource(ctx, src, rep)
		}
		return nil, err
	}
	rep.Plan = plan
	logger.Info().Int("pages", src.Pages).Int("batches", len(plan)).Bool("coalesced", coalesced).Msg("plan ready")

	results := Materialize(ctx, r.Docs, src, plan, name, func(done, total int, res Result) {
		metrics.IncBatch(res.OK())
		emit(Event{Stage: StageMaterialize, Done: done, Total: total})
	})
	if err := ctx.Err(); err != nil {
		if coalesced {
			r.removeSource(ctx, src, rep)
		}
		return nil, err
	}
	rep.Split(results)
	r.publish(ctx, job, rep, emit)

	emit(Event{Stage: StageCleanup})
	// the batched source goes unless retained: the intermediate when
	// coalesced, the caller's input otherwise
	if !job.Retain {
		r.removeSource(ctx, src, rep)
	}

	logger.Info().
		Int("written", len(rep.Written)).
		Int("failed", len(rep.Failed)).
		Int("warnings", len(rep.Warnings)).
		Msg("pass complete")
	return rep, nil
}

func (r *Runner) openAll(ctx context.Context, refs []string, emit func(Event)) ([]*document.Document, error) {
	docs := make([]*document.Document, 0, len(refs))
	for i, ref := range refs {
		d, err := r.Docs.Open(ctx, ref)
		if err != nil {
			for _, od := range docs {
				_ = r.Docs.Close(od)
			}
			return nil, err
		}
		docs = append(docs, d)
		emit(Event{Stage: StageOpen, Done: i + 1, Total: len(refs)})
	}
	return docs, nil
}

func (r *Runner) plan(ctx context.Context, job Job, src *document.Document, emit func(Event)) (batch.Plan, Namer, error) {
	emit(Event{Stage: StagePlan, Total: src.Pages})
	switch job.Mode {
	case ModeFixed:
		plan, err := batch.PlanFixed(src.Pages, job.BatchSize)
		return plan, FixedNamer(job.Output), err
	case ModeSimilarity:
		rd, err := r.OpenRenderer(src.Path)
		if err != nil {
			return nil, nil, err
		}
		defer rd.Close()
		tol := r.Tolerance
		if job.Tolerance != nil {
			tol = job.Tolerance
		}
		plan, err := batch.PlanSimilarity(ctx, rd, job.MasterPage, batch.SimilarityOptions{
			Tolerance: tol,
			DPI:       r.DPI,
			Progress: func(ps batch.PageScore) {
				metrics.ObservePage(ps.Score, ps.Match)
				emit(Event{Stage: StagePlan, Done: ps.Page, Total: ps.Total, Score: ps.Score, Match: ps.Match})
			},
		})
		return plan, RangeNamer(job.Output), err
	default:
		return nil, nil, &ValidationError{Message: fmt.Sprintf("unknown mode %q", job.Mode)}
	}
}

// concat writes every input, in order, into <output>.pdf.
func (r *Runner) concat(ctx context.Context, job Job, docs []*document.Document, rep *Report, emit func(Event)) (*Report, error) {
	emit(Event{Stage: StageCoalesce, Total: len(docs)})
	out := OutputPath(job.Output)
	merged, err := r.Docs.Concatenate(ctx, docs, out)
	res := Result{Index: 1, Path: out}
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrExtractionFailure, err)
		res.Error = res.Err.Error()
	} else {
		res.Batch = batch.Batch{Start: 1, End: merged.Pages}
		rep.Pages = merged.Pages
		rep.Plan = batch.Plan{res.Batch}
	}
	metrics.IncBatch(res.OK())
	rep.Split([]Result{res})
	r.publish(ctx, job, rep, emit)
	return rep, nil
}

func (r *Runner) publish(ctx context.Context, job Job, rep *Report, emit func(Event)) {
	if r.Publisher == nil || len(rep.Written) == 0 {
		return
	}
	for i := range rep.Written {
		res := &rep.Written[i]
		key := path.Join(r.PublishPrefix, job.ID, filepath.Base(res.Path))
		url, err := r.Publisher.Upload(ctx, key, res.Path)
		if err != nil {
			rep.warn(fmt.Errorf("publish batch %d: %w", res.Index, err))
			continue
		}
		res.URL = url
		emit(Event{Stage: StagePublish, Done: i + 1, Total: len(rep.Written)})
	}
}

func (r *Runner) removeSource(ctx context.Context, src *document.Document, rep *Report) {
	rm := r.Remover
	if rm == nil {
		rm = NewRemover(0, 0)
	}
	if err := rm.Remove(ctx, src.Path); err != nil {
		if errors.Is(err, ErrFileLocked) {
			metrics.IncCleanupWarning()
		}
		log.Warn().Err(err).Str("path", src.Path).Msg("cleanup failed")
		rep.warn(err)
	}
}
