// Package pdftest writes small PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"
)

// Page describes one generated page.
type Page struct {
	// Gray fills the page background, 0 is black and 1 is white.
	Gray float64
	// Mark draws a black square over the top-left quarter.
	Mark bool
	// Width and Height in points; zero means 200x200.
	Width, Height int
}

// Plain returns n white pages.
func Plain(n int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{Gray: 1}
	}
	return pages
}

// Separators returns n white pages where the listed 1-based pages are marked.
func Separators(n int, marked ...int) []Page {
	pages := Plain(n)
	for _, p := range marked {
		if p >= 1 && p <= n {
			pages[p-1].Mark = true
		}
	}
	return pages
}

// Write builds a PDF with the given pages at path.
func Write(path string, pages []Page) error {
	b, err := Build(pages)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Build returns the PDF bytes. Every page is a full-page image, so the page
// size in points equals the image size in pixels.
func Build(pages []Page) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftest: no pages")
	}
	imgs := make([]io.Reader, 0, len(pages))
	for i, p := range pages {
		var buf bytes.Buffer
		if err := png.Encode(&buf, p.image()); err != nil {
			return nil, fmt.Errorf("pdftest: page %d: %w", i+1, err)
		}
		imgs = append(imgs, &buf)
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.Pos = types.Full
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, imgs, imp, nil); err != nil {
		return nil, fmt.Errorf("pdftest: import pages: %w", err)
	}
	return out.Bytes(), nil
}

func (p Page) image() *image.Gray {
	w, h := p.Width, p.Height
	if w <= 0 {
		w = 200
	}
	if h <= 0 {
		h = 200
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	bg := color.Gray{Y: uint8(clamp(p.Gray) * 255)}
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	if p.Mark {
		draw.Draw(img, image.Rect(0, 0, w/2, h/2), image.NewUniform(color.Gray{}), image.Point{}, draw.Src)
	}
	return img
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
