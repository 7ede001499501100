// Package grid reduces a luma image to a coarse X-by-Y grid of brightness
// aggregates and compares two such grids cell by cell.
package grid

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

var (
	// ErrInvalidGrid is returned by Build for a nil image or non-positive
	// box counts.
	ErrInvalidGrid = errors.New("grid: invalid grid parameters")

	// ErrGridMismatch is returned by Compare when the two grids do not
	// share the same box counts.
	ErrGridMismatch = errors.New("grid: grid shapes differ")
)

// State is an immutable grid summary of one image.
//
// Cell (x, y) holds the sum of every pixel in that cell and is stored at
// cells[y*xBoxes+x]. Band widths are width/xBoxes and height/yBoxes; the
// last column and last row absorb the remainder so every pixel lands in
// exactly one cell.
type State struct {
	xBoxes int
	yBoxes int
	cells  []int64
}

// Build aggregates img into an xBoxes-by-yBoxes grid.
func Build(img *luma.Image, xBoxes, yBoxes int) (*State, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidGrid)
	}
	if xBoxes <= 0 || yBoxes <= 0 {
		return nil, fmt.Errorf("%w: %dx%d boxes", ErrInvalidGrid, xBoxes, yBoxes)
	}
	if len(img.Pix) != img.Width*img.Height {
		return nil, fmt.Errorf("%w: %d samples for %dx%d image",
			ErrInvalidGrid, len(img.Pix), img.Width, img.Height)
	}

	s := &State{
		xBoxes: xBoxes,
		yBoxes: yBoxes,
		cells:  make([]int64, xBoxes*yBoxes),
	}

	// Column -> cell index lookup, computed once per image width.
	cols := make([]int, img.Width)
	for x := range cols {
		cols[x] = band(x, img.Width, xBoxes)
	}

	for y := 0; y < img.Height; y++ {
		rowBase := band(y, img.Height, yBoxes) * xBoxes
		row := img.Pix[y*img.Width : (y+1)*img.Width]
		for x, v := range row {
			s.cells[rowBase+cols[x]] += int64(v)
		}
	}

	return s, nil
}

// band maps a pixel coordinate to its band index.
func band(pos, size, count int) int {
	step := size / count
	if step == 0 {
		return count - 1
	}
	if b := pos / step; b < count {
		return b
	}
	return count - 1
}

// Cell returns the aggregate at column x, row y.
func (s *State) Cell(x, y int) int64 {
	return s.cells[y*s.xBoxes+x]
}

// Cells returns a copy of the aggregates in row-major order.
func (s *State) Cells() []int64 {
	out := make([]int64, len(s.cells))
	copy(out, s.cells)
	return out
}

// Total returns the sum of all cells, equal to the source image's Sum.
func (s *State) Total() int64 {
	var t int64
	for _, c := range s.cells {
		t += c
	}
	return t
}
