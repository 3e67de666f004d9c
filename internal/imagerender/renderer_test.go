package imagerender

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfbatcher/internal/batch"
	"github.com/local/pdfbatcher/internal/pdftest"
	"github.com/local/pdfbatcher/internal/raster"
)

func openTestDoc(t *testing.T, pages []pdftest.Page) *Document {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, pdftest.Write(p, pages))
	d, err := Open(p)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRender(t *testing.T) {
	d := openTestDoc(t, pdftest.Separators(2, 1))
	assert.Equal(t, 2, d.PageCount())

	r, err := d.Render(context.Background(), 2, 36)
	require.NoError(t, err)
	defer r.Release()
	assert.Greater(t, r.Width, 0)
	assert.Greater(t, r.Height, 0)

	_, err = d.Render(context.Background(), 3, 36)
	assert.Error(t, err)
}

func TestRender_Cancelled(t *testing.T) {
	d := openTestDoc(t, pdftest.Plain(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Render(ctx, 1, 36)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRender_MarkedPageDiffers(t *testing.T) {
	d := openTestDoc(t, pdftest.Separators(3, 1, 3))
	ctx := context.Background()

	render := func(p int) *raster.Raster {
		r, err := d.Render(ctx, p, 36)
		require.NoError(t, err)
		return r
	}
	a, b, c := render(1), render(2), render(3)

	same, err := raster.Difference(a, c)
	require.NoError(t, err)
	assert.Less(t, same, batch.DefaultTolerance)

	diff, err := raster.Difference(a, b)
	require.NoError(t, err)
	assert.Greater(t, diff, batch.DefaultTolerance)
}

func TestPlanSimilarity_RenderedPDF(t *testing.T) {
	d := openTestDoc(t, pdftest.Separators(7, 1, 4, 6))

	plan, err := batch.PlanSimilarity(context.Background(), d, 1, batch.SimilarityOptions{DPI: 36})
	require.NoError(t, err)
	assert.Equal(t, batch.Plan{{Start: 1, End: 3}, {Start: 4, End: 5}}, plan)
}

func TestDebugDir(t *testing.T) {
	dir := t.TempDir()
	d := openTestDoc(t, pdftest.Plain(1)).WithDebugDir(dir)

	r, err := d.Render(context.Background(), 1, 36)
	require.NoError(t, err)
	r.Release()
	assert.FileExists(t, filepath.Join(dir, "scan_page_1.png"))
}

func TestWritePNG_Released(t *testing.T) {
	r := raster.New(2, 2)
	r.Release()
	assert.ErrorIs(t, WritePNG(r, filepath.Join(t.TempDir(), "x.png")), raster.ErrReleased)
}

func TestClose_Twice(t *testing.T) {
	d := openTestDoc(t, pdftest.Plain(1))
	require.NoError(t, d.Close())
	assert.NoError(t, d.Close())
}

func TestRender_AfterClose(t *testing.T) {
	d := openTestDoc(t, pdftest.Plain(2))
	require.NoError(t, d.Close())

	r, err := d.Render(context.Background(), 1, 36)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, r)
}
