package raster

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// BytesPerPixel is the fixed channel layout of a Raster: alpha, red, green, blue.
const BytesPerPixel = 4

// Raster is a rendered page as a row-major ARGB byte buffer.
type Raster struct {
	Width  int
	Height int
	Pix    []byte
}

// New allocates a blank (fully transparent black) raster.
func New(width, height int) *Raster {
	return &Raster{Width: width, Height: height, Pix: make([]byte, width*height*BytesPerPixel)}
}

// FromImage copies any image into ARGB order. go-fitz hands back *image.RGBA,
// which takes the fast path; everything else is drawn into RGBA first.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(b)
		draw.Draw(rgba, b, img, b.Min, draw.Src)
	}

	r := New(b.Dx(), b.Dy())
	for y := 0; y < r.Height; y++ {
		off := rgba.PixOffset(b.Min.X, b.Min.Y+y)
		src := rgba.Pix[off : off+r.Width*4]
		dst := r.Pix[y*r.Width*BytesPerPixel : (y+1)*r.Width*BytesPerPixel]
		for x := 0; x < r.Width; x++ {
			s := src[x*4 : x*4+4]
			d := dst[x*BytesPerPixel : x*BytesPerPixel+BytesPerPixel]
			d[0], d[1], d[2], d[3] = s[3], s[0], s[1], s[2]
		}
	}
	return r
}

// Set writes one pixel.
func (r *Raster) Set(x, y int, a, red, g, b uint8) {
	i := (y*r.Width + x) * BytesPerPixel
	r.Pix[i], r.Pix[i+1], r.Pix[i+2], r.Pix[i+3] = a, red, g, b
}

// At returns the ARGB channels of one pixel.
func (r *Raster) At(x, y int) (a, red, g, b uint8) {
	i := (y*r.Width + x) * BytesPerPixel
	return r.Pix[i], r.Pix[i+1], r.Pix[i+2], r.Pix[i+3]
}

// Image converts back to a standard image for encoding (PNG debug dumps).
func (r *Raster) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			a, red, g, b := r.At(x, y)
			img.SetNRGBA(x, y, color.NRGBA{R: red, G: g, B: b, A: a})
		}
	}
	return img
}

// Release drops the pixel buffer. A released raster must not be compared again.
func (r *Raster) Release() {
	if r == nil {
		return
	}
	r.Pix = nil
}

// Released reports whether Release has been called.
func (r *Raster) Released() bool { return r == nil || r.Pix == nil }
