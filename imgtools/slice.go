package imgtools

import (
	"errors"
	"fmt"
)

var ErrInvalidTileSize = errors.New("tile size must be positive")

type Size struct {
	Height int
	Width  int
}

// Window is a rectangle in source pixel coordinates.
type Window struct {
	Row    int
	Col    int
	Height int
	Width  int
}

// TileWindows covers an h x w extent with row-major windows of the given size.
// The last row and column of windows are shifted inward so they end on the
// bound, overlapping their neighbour instead of being padded. When an axis is
// shorter than the tile, the start is clamped to 0 and the window spans the
// whole axis.
func TileWindows(h, w int, size Size) ([]Window, error) {
	if size.Height <= 0 || size.Width <= 0 {
		return nil, fmt.Errorf("%+v: %w", size, ErrInvalidTileSize)
	}
	rows := ceilDiv(h, size.Height)
	cols := ceilDiv(w, size.Width)

	windows := make([]Window, 0, rows*cols)
	for i := 0; i < rows; i++ {
		startI, endI := axisWindow(i, size.Height, h)
		for j := 0; j < cols; j++ {
			startJ, endJ := axisWindow(j, size.Width, w)
			windows = append(windows, Window{
				Row:    startI,
				Col:    startJ,
				Height: endI - startI,
				Width:  endJ - startJ,
			})
		}
	}
	return windows, nil
}

// SliceImage splits a into tiles of the given size, in row-major order.
func SliceImage(a *Array, size Size) ([]*Array, error) {
	windows, err := TileWindows(a.Height, a.Width, size)
	if err != nil {
		return nil, err
	}
	tiles := make([]*Array, len(windows))
	for k, w := range windows {
		tiles[k] = a.Sub(w)
	}
	return tiles, nil
}

func axisWindow(idx, size, bound int) (int, int) {
	start, end := idx*size, (idx+1)*size
	if end > bound {
		start = bound - size
		end = bound
	}
	if start < 0 {
		start = 0
	}
	return start, end
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
