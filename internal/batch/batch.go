// Package batch plans how a paginated document is cut into output batches.
package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatchSize is returned by PlanFixed for a non-positive batch size.
	ErrInvalidBatchSize = errors.New("invalid batch size")
	// ErrPageOutOfRange is returned when a master page lies outside the document.
	ErrPageOutOfRange = errors.New("page out of range")
)

// Batch is a contiguous, inclusive, 1-based page range.
type Batch struct {
	Start int `json:"start_page"`
	End   int `json:"end_page"`
}

// Pages returns the number of pages covered by the batch.
func (b Batch) Pages() int { return b.End - b.Start + 1 }

// Selection renders the batch as a page selection string ("4-6").
func (b Batch) Selection() string { return fmt.Sprintf("%d-%d", b.Start, b.End) }

func (b Batch) String() string { return "[" + b.Selection() + "]" }

// Plan is an ordered list of batches. Batches are strictly increasing and never
// overlap, but a plan is not required to cover every page.
type Plan []Batch

// Pages returns the total number of pages the plan will write.
func (p Plan) Pages() int {
	n := 0
	for _, b := range p {
		n += b.Pages()
	}
	return n
}

// Validate checks the plan invariants against a document of totalPages pages.
func (p Plan) Validate(totalPages int) error {
	prevEnd := 0
	for i, b := range p {
		if b.Start < 1 || b.Start > b.End || b.End > totalPages {
			return fmt.Errorf("batch %d %s: %w (document has %d pages)", i+1, b, ErrPageOutOfRange, totalPages)
		}
		if b.Start <= prevEnd {
			return fmt.Errorf("batch %d %s overlaps previous batch ending at %d", i+1, b, prevEnd)
		}
		prevEnd = b.End
	}
	return nil
}
