package raster

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when two rasters cannot be compared.
var ErrDimensionMismatch = errors.New("raster dimension mismatch")

// ErrReleased is returned when a released raster is compared.
var ErrReleased = errors.New("raster already released")

// Difference returns the L1 distance between a and b as a percentage in [0,100].
//
// Every channel contributes |a-b|/255, the sum is normalized by width*height*4.
// Raw channel bytes are compared; there is no premultiplication or colour
// conversion.
func Difference(a, b *Raster) (float64, error) {
	if a.Released() || b.Released() {
		return 0, ErrReleased
	}
	if a.Width != b.Width || a.Height != b.Height {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrDimensionMismatch, a.Width, a.Height, b.Width, b.Height)
	}
	n := a.Width * a.Height * BytesPerPixel
	if n == 0 {
		return 0, nil
	}
	if len(a.Pix) < n || len(b.Pix) < n {
		return 0, fmt.Errorf("%w: short pixel buffer", ErrDimensionMismatch)
	}

	var total uint64
	for i := 0; i < n; i++ {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		total += uint64(d)
	}
	return 100 * float64(total) / 255 / float64(n), nil
}
