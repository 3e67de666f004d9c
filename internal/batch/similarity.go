package batch

import (
	"context"
	"fmt"

	"github.com/local/pdfbatcher/internal/raster"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTolerance is the match threshold in percent.
	DefaultTolerance = 1.0
	// DefaultDPI is the comparison render resolution.
	DefaultDPI = 16.0
)

// PageRenderer is the raster service the similarity planner depends on.
type PageRenderer interface {
	PageCount() int
	Render(ctx context.Context, page int, dpi float64) (*raster.Raster, error)
}

// PageScore is reported to the progress observer once per compared page.
type PageScore struct {
	Page  int
	Total int
	Score float64
	Match bool
}

// ProgressFunc observes planning progress. It must not retain the raster state.
type ProgressFunc func(PageScore)

// SimilarityOptions tunes PlanSimilarity.
type SimilarityOptions struct {
	// Tolerance is the match threshold in percent; nil means DefaultTolerance.
	// An explicit 0 matches no page.
	Tolerance *float64
	// DPI of both renders; zero or negative means DefaultDPI.
	DPI      float64
	Progress ProgressFunc
}

// Tolerance returns v as an explicit threshold.
func Tolerance(v float64) *float64 { return &v }

func (o SimilarityOptions) withDefaults() SimilarityOptions {
	if o.Tolerance == nil {
		o.Tolerance = Tolerance(DefaultTolerance)
	}
	if o.DPI <= 0 {
		o.DPI = DefaultDPI
	}
	return o
}

// PlanSimilarity walks every page, compares it with masterPage and cuts a batch
// at each match.
//
// A single bookmark holds the start of the open segment. A match with no
// bookmark opens one; a later match closes [bookmark, page-1] and reopens at
// the current page. Non-matches are absorbed. The segment opened by the last
// match is never closed, so trailing pages are not planned.
//
// Any render or comparison error aborts the pass; no partial plan is returned.
func PlanSimilarity(ctx context.Context, src PageRenderer, masterPage int, opts SimilarityOptions) (Plan, error) {
	opts = opts.withDefaults()
	total := src.PageCount()
	if masterPage < 1 || masterPage > total {
		return nil, fmt.Errorf("master page %d: %w (document has %d pages)", masterPage, ErrPageOutOfRange, total)
	}

	master, err := src.Render(ctx, masterPage, opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("render master page %d: %w", masterPage, err)
	}
	defer master.Release()

	plan := Plan{}
	bookmark := 0
	for p := 1; p <= total; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score, err := comparePage(ctx, src, master, masterPage, p, opts.DPI)
		if err != nil {
			return nil, err
		}
		match := score < *opts.Tolerance

		log.Debug().
			Int("page", p).
			Float64("score", score).
			Bool("match", match).
			Msg("compared page with master")

		if opts.Progress != nil {
			opts.Progress(PageScore{Page: p, Total: total, Score: score, Match: match})
		}

		if !match {
			continue
		}
		if bookmark != 0 && p-1 >= bookmark {
			plan = append(plan, Batch{Start: bookmark, End: p - 1})
		}
		bookmark = p
	}

	if bookmark != 0 && bookmark < total {
		log.Debug().Int("from", bookmark).Int("to", total).Msg("trailing segment after last separator not planned")
	}
	return plan, nil
}

// comparePage scores one page against the cached master, releasing the page
// raster before returning so only the master outlives an iteration.
func comparePage(ctx context.Context, src PageRenderer, master *raster.Raster, masterPage, page int, dpi float64) (float64, error) {
	if page == masterPage {
		return raster.Difference(master, master)
	}
	img, err := src.Render(ctx, page, dpi)
	if err != nil {
		return 0, fmt.Errorf("render page %d: %w", page, err)
	}
	defer img.Release()

	score, err := raster.Difference(master, img)
	if err != nil {
		return 0, fmt.Errorf("compare page %d with master %d: %w", page, masterPage, err)
	}
	return score, nil
}
