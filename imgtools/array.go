package imgtools

import (
	"errors"
	"fmt"
)

var ErrShapeMismatch = errors.New("array shapes do not match")

// Array is a channels-last raster: element (r, c, ch) lives at
// (r*Width+c)*Channels+ch. A single-channel Array is the 2-D case.
type Array struct {
	Height   int
	Width    int
	Channels int
	Data     []float64
}

func NewArray(height, width, channels int) *Array {
	return &Array{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float64, height*width*channels),
	}
}

// FromRows builds a single-channel Array from row slices, all of the same length.
func FromRows(rows [][]float64) *Array {
	if len(rows) == 0 {
		return NewArray(0, 0, 1)
	}
	out := NewArray(len(rows), len(rows[0]), 1)
	for r, row := range rows {
		copy(out.Data[r*out.Width:(r+1)*out.Width], row)
	}
	return out
}

func (a *Array) Is2D() bool {
	return a.Channels == 1
}

func (a *Array) At(r, c, ch int) float64 {
	return a.Data[(r*a.Width+c)*a.Channels+ch]
}

func (a *Array) Set(r, c, ch int, v float64) {
	a.Data[(r*a.Width+c)*a.Channels+ch] = v
}

func (a *Array) Pixels() int {
	return a.Height * a.Width
}

func (a *Array) String() string {
	return fmt.Sprintf("Array(%d, %d, %d)", a.Height, a.Width, a.Channels)
}

// Band copies one channel out into a single-channel Array.
func (a *Array) Band(ch int) (*Array, error) {
	if ch < 0 || ch >= a.Channels {
		return nil, fmt.Errorf("band %d out of range for %v", ch, a)
	}
	out := NewArray(a.Height, a.Width, 1)
	for pix := 0; pix < a.Pixels(); pix++ {
		out.Data[pix] = a.Data[pix*a.Channels+ch]
	}
	return out, nil
}

// Sub copies the window starting at (row, col) into a new Array.
func (a *Array) Sub(w Window) *Array {
	out := NewArray(w.Height, w.Width, a.Channels)
	rowLen := w.Width * a.Channels
	for r := 0; r < w.Height; r++ {
		src := ((w.Row+r)*a.Width + w.Col) * a.Channels
		copy(out.Data[r*rowLen:(r+1)*rowLen], a.Data[src:src+rowLen])
	}
	return out
}

// Paste writes src into a at the window origin.
func (a *Array) Paste(src *Array, w Window) error {
	if src.Channels != a.Channels || src.Height != w.Height || src.Width != w.Width {
		return fmt.Errorf("paste %v into %v at %+v: %w", src, a, w, ErrShapeMismatch)
	}
	rowLen := w.Width * a.Channels
	for r := 0; r < w.Height; r++ {
		dst := ((w.Row+r)*a.Width + w.Col) * a.Channels
		copy(a.Data[dst:dst+rowLen], src.Data[r*rowLen:(r+1)*rowLen])
	}
	return nil
}

// Stack joins single-channel arrays of equal extent along the channel axis.
func Stack(bands ...*Array) (*Array, error) {
	if len(bands) == 0 {
		return nil, errors.New("nothing to stack")
	}
	h, w := bands[0].Height, bands[0].Width
	out := NewArray(h, w, len(bands))
	for ch, band := range bands {
		if band.Height != h || band.Width != w || band.Channels != 1 {
			return nil, fmt.Errorf("stack %v with %v: %w", band, bands[0], ErrShapeMismatch)
		}
		for pix, v := range band.Data {
			out.Data[pix*out.Channels+ch] = v
		}
	}
	return out, nil
}

func sameExtent(a, b *Array) bool {
	return a.Height == b.Height && a.Width == b.Width
}
