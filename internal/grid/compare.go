package grid

import (
	"fmt"
	"strings"
)

// Comparer decides whether two grids differ.
//
// A cell changed when |cur - prev| > Leniency. Any changed cell makes the
// pair different. Leniency below zero is treated as zero.
//
// Verbosity > 0 fills Result.Changed with the per-cell map. It never
// alters the verdict.
type Comparer struct {
	Leniency  int
	Verbosity int
}

// Result is the outcome of one comparison.
type Result struct {
	Different bool
	// ChangedCells counts cells over the leniency threshold.
	ChangedCells int
	XBoxes       int
	YBoxes       int
	// Changed is the row-major per-cell map, nil unless Verbosity > 0.
	Changed []bool
}

// Compare compares cur against prev.
func (c Comparer) Compare(cur, prev *State) (Result, error) {
	if cur == nil || prev == nil {
		return Result{Different: true}, fmt.Errorf("%w: nil grid", ErrGridMismatch)
	}
	if cur.xBoxes != prev.xBoxes || cur.yBoxes != prev.yBoxes {
		return Result{Different: true, XBoxes: cur.xBoxes, YBoxes: cur.yBoxes},
			fmt.Errorf("%w: %dx%d vs %dx%d", ErrGridMismatch,
				cur.xBoxes, cur.yBoxes, prev.xBoxes, prev.yBoxes)
	}

	lenient := int64(c.Leniency)
	if lenient < 0 {
		lenient = 0
	}

	res := Result{XBoxes: cur.xBoxes, YBoxes: cur.yBoxes}
	if c.Verbosity > 0 {
		res.Changed = make([]bool, len(cur.cells))
	}

	for i := range cur.cells {
		d := cur.cells[i] - prev.cells[i]
		if d < 0 {
			d = -d
		}
		if d > lenient {
			res.ChangedCells++
			if res.Changed != nil {
				res.Changed[i] = true
			}
		}
	}
	res.Different = res.ChangedCells > 0

	return res, nil
}

// IsDifferent reports whether cur differs from prev. Grids with
// mismatched shapes are always different.
func (c Comparer) IsDifferent(cur, prev *State) bool {
	res, err := c.Compare(cur, prev)
	if err != nil {
		return true
	}
	return res.Different
}

// String renders the changed map one row per line, X for changed cells.
// Without a map it returns a one-line summary.
func (r Result) String() string {
	if r.Changed == nil {
		return fmt.Sprintf("different=%t changed=%d", r.Different, r.ChangedCells)
	}

	var b strings.Builder
	b.Grow((r.XBoxes + 1) * r.YBoxes)
	for y := 0; y < r.YBoxes; y++ {
		for x := 0; x < r.XBoxes; x++ {
			if r.Changed[y*r.XBoxes+x] {
				b.WriteByte('X')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
