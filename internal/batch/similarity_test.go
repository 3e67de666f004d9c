package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/local/pdfbatcher/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDoc renders page i as a flat raster filled with shades[i-1].
type fakeDoc struct {
	shades  []byte
	sizes   map[int][2]int
	fail    map[int]error
	renders map[int]int
	live    []*raster.Raster
}

func newFakeDoc(shades ...byte) *fakeDoc {
	return &fakeDoc{shades: shades, sizes: map[int][2]int{}, fail: map[int]error{}, renders: map[int]int{}}
}

func (d *fakeDoc) PageCount() int { return len(d.shades) }

func (d *fakeDoc) Render(_ context.Context, page int, _ float64) (*raster.Raster, error) {
	d.renders[page]++
	if err := d.fail[page]; err != nil {
		return nil, err
	}
	w, h := 4, 6
	if sz, ok := d.sizes[page]; ok {
		w, h = sz[0], sz[1]
	}
	r := raster.New(w, h)
	for i := range r.Pix {
		r.Pix[i] = d.shades[page-1]
	}
	d.live = append(d.live, r)
	return r, nil
}

// alive counts rasters that have not been released yet.
func (d *fakeDoc) alive() int {
	n := 0
	for _, r := range d.live {
		if !r.Released() {
			n++
		}
	}
	return n
}

const (
	sep   = 0
	other = 200
)

func TestPlanSimilarity_Scenario(t *testing.T) {
	// 1:master 2:match 3,4:no 5,6:match 7:no
	doc := newFakeDoc(sep, sep, other, other, sep, sep, other)

	plan, err := PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{})
	require.NoError(t, err)
	assert.Equal(t, Plan{{1, 1}, {2, 4}, {5, 5}}, plan)
	assert.NoError(t, plan.Validate(doc.PageCount()))
}

func TestPlanSimilarity_NoMatchBeyondMaster(t *testing.T) {
	doc := newFakeDoc(other, sep, other, other)

	plan, err := PlanSimilarity(context.Background(), doc, 2, SimilarityOptions{})
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanSimilarity_EveryPageMatches(t *testing.T) {
	doc := newFakeDoc(sep, sep, sep, sep)

	plan, err := PlanSimilarity(context.Background(), doc, 3, SimilarityOptions{})
	require.NoError(t, err)
	assert.Equal(t, Plan{{1, 1}, {2, 2}, {3, 3}}, plan)
	for _, b := range plan {
		assert.GreaterOrEqual(t, b.Pages(), 1)
	}
}

func TestPlanSimilarity_LeadingPagesUnassigned(t *testing.T) {
	doc := newFakeDoc(other, other, sep, other, sep, other, other, sep)

	plan, err := PlanSimilarity(context.Background(), doc, 3, SimilarityOptions{})
	require.NoError(t, err)
	assert.Equal(t, Plan{{3, 4}, {5, 7}}, plan)
}

func TestPlanSimilarity_Tolerance(t *testing.T) {
	// shade 3 differs from 0 by 3/255*100 ≈ 1.18%
	doc := newFakeDoc(0, 3, 200, 0, 200)

	plan, err := PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{})
	require.NoError(t, err)
	assert.Equal(t, Plan{{1, 3}}, plan, "default tolerance rejects page 2")

	plan, err = PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{Tolerance: Tolerance(1.5)})
	require.NoError(t, err)
	assert.Equal(t, Plan{{1, 1}, {2, 3}}, plan)
}

func TestPlanSimilarity_ZeroToleranceMatchesNothing(t *testing.T) {
	doc := newFakeDoc(sep, sep, other, sep)

	plan, err := PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{Tolerance: Tolerance(0)})
	require.NoError(t, err)
	assert.Empty(t, plan, "identical pages score 0, which is not below 0")

	plan, err = PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{})
	require.NoError(t, err)
	assert.Equal(t, Plan{{1, 1}, {2, 3}}, plan, "unset tolerance uses the default")
}

func TestPlanSimilarity_StrictLessThan(t *testing.T) {
	// 255/255 over every channel is exactly 100%
	doc := newFakeDoc(0, 255, 0)

	plan, err := PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{Tolerance: Tolerance(100)})
	require.NoError(t, err)
	assert.Equal(t, Plan{{1, 2}}, plan)
}

func TestPlanSimilarity_MasterOutOfRange(t *testing.T) {
	doc := newFakeDoc(sep, other)
	for _, master := range []int{0, -2, 3} {
		_, err := PlanSimilarity(context.Background(), doc, master, SimilarityOptions{})
		assert.ErrorIs(t, err, ErrPageOutOfRange)
	}
	assert.Empty(t, doc.renders, "nothing rendered for invalid master")
}

func TestPlanSimilarity_DimensionMismatchAbortsPass(t *testing.T) {
	doc := newFakeDoc(sep, sep, other, sep)
	doc.sizes[3] = [2]int{5, 6}

	plan, err := PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{})
	assert.ErrorIs(t, err, raster.ErrDimensionMismatch)
	assert.Nil(t, plan)
	assert.Zero(t, doc.renders[4], "pass stops at the mismatch")
}

func TestPlanSimilarity_RenderErrorAbortsPass(t *testing.T) {
	boom := errors.New("mupdf failed")
	doc := newFakeDoc(sep, other, sep)
	doc.fail[2] = boom

	_, err := PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestPlanSimilarity_MasterRenderedOnceAndRastersReleased(t *testing.T) {
	doc := newFakeDoc(other, sep, other, sep, other)
	maxAlive := 0
	opts := SimilarityOptions{Progress: func(PageScore) {
		if n := doc.alive(); n > maxAlive {
			maxAlive = n
		}
	}}

	_, err := PlanSimilarity(context.Background(), doc, 2, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, doc.renders[2])
	for p := 1; p <= doc.PageCount(); p++ {
		assert.Equal(t, 1, doc.renders[p], "page %d", p)
	}
	assert.Equal(t, 1, maxAlive, "only the master survives a comparison")
	assert.Zero(t, doc.alive(), "master released when the pass completes")
}

func TestPlanSimilarity_ProgressObserver(t *testing.T) {
	doc := newFakeDoc(sep, other, sep)
	var seen []PageScore

	_, err := PlanSimilarity(context.Background(), doc, 1, SimilarityOptions{Progress: func(ps PageScore) {
		seen = append(seen, ps)
	}})
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, PageScore{Page: 1, Total: 3, Score: 0, Match: true}, seen[0])
	assert.False(t, seen[1].Match)
	assert.InDelta(t, 100*200.0/255, seen[1].Score, 1e-9)
	assert.True(t, seen[2].Match)
}

func TestPlanSimilarity_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PlanSimilarity(ctx, newFakeDoc(sep, sep), 1, SimilarityOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
