package imagerender

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/raster"
)

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("renderer closed")

// Document keeps one MuPDF handle open for a whole similarity pass.
// MuPDF contexts are not safe for concurrent use, so Render serializes calls.
type Document struct {
	path     string
	doc      *fitz.Document
	pages    int
	mu       sync.Mutex
	debugDir string
}

// Open opens a PDF for rendering.
func Open(path string) (*Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return &Document{path: path, doc: doc, pages: doc.NumPage()}, nil
}

// WithDebugDir makes Render also dump each raster as PNG under dir.
func (d *Document) WithDebugDir(dir string) *Document {
	d.debugDir = dir
	return d
}

// PageCount returns the number of pages in the document.
func (d *Document) PageCount() int { return d.pages }

// Render rasterizes a 1-based page at the given DPI.
func (d *Document) Render(ctx context.Context, page int, dpi float64) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 1 || page > d.pages {
		return nil, fmt.Errorf("page %d outside 1..%d", page, d.pages)
	}

	d.mu.Lock()
	if d.doc == nil {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	// go-fitz uses 0-based indexing
	img, err := d.doc.ImageDPI(page-1, dpi)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	r := raster.FromImage(img)
	log.Debug().
		Int("page", page).
		Int("width", r.Width).
		Int("height", r.Height).
		Float64("dpi", dpi).
		Msg("rendered page")

	if d.debugDir != "" {
		name := fmt.Sprintf("%s_page_%d.png", trimExt(filepath.Base(d.path)), page)
		if err := WritePNG(r, filepath.Join(d.debugDir, name)); err != nil {
			log.Warn().Err(err).Int("page", page).Msg("failed to write debug raster")
		}
	}
	return r, nil
}

// Close releases the MuPDF handle.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}

// WritePNG encodes a raster as PNG at path, creating parent directories.
func WritePNG(r *raster.Raster, path string) error {
	if r == nil || r.Released() {
		return raster.ErrReleased
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, r.Image()); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return f.Close()
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
