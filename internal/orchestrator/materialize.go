package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/batch"
	"github.com/local/pdfbatcher/internal/document"
)

// RangeExtractor writes a page range of a document to a new file.
type RangeExtractor interface {
	ExtractRange(ctx context.Context, doc *document.Document, start, end int, outPath string) error
}

// Result is the outcome of writing one batch.
type Result struct {
	Index int         `json:"index"`
	Batch batch.Batch `json:"batch"`
	Path  string      `json:"path"`
	URL   string      `json:"url,omitempty"`
	Error string      `json:"error,omitempty"`
	Err   error       `json:"-"`
}

// OK reports whether the batch was written.
func (r Result) OK() bool { return r.Err == nil }

// BatchFunc observes each materialized batch.
type BatchFunc func(done, total int, r Result)

// Materialize writes every batch of plan from doc. Batches are independent:
// a failed extraction is recorded in its Result and the loop moves on.
// Cancellation stops before the next batch; the results so far are returned.
func Materialize(ctx context.Context, ext RangeExtractor, doc *document.Document, plan batch.Plan, name Namer, progress BatchFunc) []Result {
	results := make([]Result, 0, len(plan))
	for i, b := range plan {
		if ctx.Err() != nil {
			break
		}
		r := Result{Index: i + 1, Batch: b, Path: name(i+1, b)}
		if err := ext.ExtractRange(ctx, doc, b.Start, b.End, r.Path); err != nil {
			r.Err = fmt.Errorf("%w: batch %d (%s): %v", ErrExtractionFailure, r.Index, b, err)
			r.Error = r.Err.Error()
			log.Warn().Err(err).Int("batch", r.Index).Int("start", b.Start).Int("end", b.End).Msg("batch extraction failed")
		} else {
			log.Debug().Int("batch", r.Index).Int("start", b.Start).Int("end", b.End).Str("path", r.Path).Msg("batch written")
		}
		results = append(results, r)
		if progress != nil {
			progress(i+1, len(plan), r)
		}
	}
	return results
}
