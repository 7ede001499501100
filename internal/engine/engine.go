// Package engine holds the drifting-background motion detector.
//
// The engine keeps the previous frame as its background. Every call to
// Detect compares the incoming frame's grid against the background grid
// and then replaces the background with the incoming frame, whatever the
// verdict. Slow changes (daylight) are therefore absorbed one frame at a
// time while abrupt changes between samples register as motion.
//
// State machine:
//
//	Empty --first frame--> Armed --next frame, same shape--> Ready
//	  any --shape change--> Armed (reported as motion)
//	Ready --frame--> Ready
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/grid"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

var (
	// ErrInvalidInput is returned by Detect for a nil image or one whose
	// dimensions disagree with the declared width and height.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrInvalidConfig is returned for negative leniency or non-positive
	// box counts.
	ErrInvalidConfig = errors.New("engine: invalid config")
)

// State is the background lifecycle stage.
type State int

const (
	// StateEmpty means no background has been stored yet.
	StateEmpty State = iota
	// StateArmed means a background image exists but its grid is not built.
	StateArmed
	// StateReady means both background image and grid are cached.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateArmed:
		return "armed"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Config holds engine parameters.
type Config struct {
	Leniency  int
	XBoxes    int
	YBoxes    int
	Verbosity int
}

// DefaultConfig returns leniency 20 on a 10x10 grid.
func DefaultConfig() Config {
	return Config{Leniency: 20, XBoxes: 10, YBoxes: 10}
}

// Stats counts Detect outcomes.
type Stats struct {
	Detections   uint64
	Motions      uint64
	ShapeChanges uint64
	State        string
}

// Engine is safe for concurrent use, though Detect is expected to be
// driven by a single goroutine.
type Engine struct {
	xBoxes    int
	yBoxes    int
	verbosity int
	leniency  atomic.Int64

	mu         sync.Mutex
	background *luma.Image
	bgWidth    int
	bgHeight   int
	bgGrid     *grid.State
	last       grid.Result

	detections   uint64
	motions      uint64
	shapeChanges uint64
}

// New validates cfg and returns an engine in StateEmpty.
func New(cfg Config) (*Engine, error) {
	if cfg.Leniency < 0 {
		return nil, fmt.Errorf("%w: leniency %d < 0", ErrInvalidConfig, cfg.Leniency)
	}
	if cfg.XBoxes <= 0 || cfg.YBoxes <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", ErrInvalidConfig, cfg.XBoxes, cfg.YBoxes)
	}

	e := &Engine{
		xBoxes:    cfg.XBoxes,
		yBoxes:    cfg.YBoxes,
		verbosity: cfg.Verbosity,
	}
	e.leniency.Store(int64(cfg.Leniency))
	return e, nil
}

// Detect reports whether img differs from the stored background.
//
// Detect takes ownership of img; callers must not modify it afterwards.
// The first frame only seeds the background and returns false. A frame
// with a different shape than the background returns true and becomes
// the new background.
func (e *Engine) Detect(img *luma.Image, width, height int) (bool, error) {
	if img == nil {
		return false, fmt.Errorf("%w: nil image", ErrInvalidInput)
	}
	if img.Width != width || img.Height != height || len(img.Pix) != width*height {
		return false, fmt.Errorf("%w: image %dx%d (%d samples) declared as %dx%d",
			ErrInvalidInput, img.Width, img.Height, len(img.Pix), width, height)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.detections++

	if e.background == nil {
		e.adopt(img, nil)
		slog.Debug("engine: background seeded", "width", width, "height", height)
		return false, nil
	}

	if len(img.Pix) != len(e.background.Pix) || width != e.bgWidth || height != e.bgHeight {
		slog.Info("engine: frame shape changed",
			"from", fmt.Sprintf("%dx%d", e.bgWidth, e.bgHeight),
			"to", fmt.Sprintf("%dx%d", width, height),
		)
		e.shapeChanges++
		e.motions++
		e.adopt(img, nil)
		return true, nil
	}

	if e.bgGrid == nil {
		bg, err := grid.Build(e.background, e.xBoxes, e.yBoxes)
		if err != nil {
			return false, fmt.Errorf("engine: background grid: %w", err)
		}
		e.bgGrid = bg
	}

	cur, err := grid.Build(img, e.xBoxes, e.yBoxes)
	if err != nil {
		return false, fmt.Errorf("engine: frame grid: %w", err)
	}

	cmp := grid.Comparer{Leniency: int(e.leniency.Load()), Verbosity: e.verbosity}
	res, err := cmp.Compare(cur, e.bgGrid)
	if err != nil {
		return false, fmt.Errorf("engine: compare: %w", err)
	}

	e.last = res
	e.adopt(img, cur)

	if res.Different {
		e.motions++
	}
	if e.verbosity >= 2 {
		slog.Debug("engine: compared", "different", res.Different, "changed", res.ChangedCells, "map", res.String())
	}

	return res.Different, nil
}

func (e *Engine) adopt(img *luma.Image, g *grid.State) {
	e.background = img
	e.bgWidth = img.Width
	e.bgHeight = img.Height
	e.bgGrid = g
}

// LastRawImage returns a copy of the background, or nil before the first
// frame.
func (e *Engine) LastRawImage() *luma.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.background.Clone()
}

// LastResult returns the most recent comparison.
func (e *Engine) LastResult() grid.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// SetLeniency changes the threshold for subsequent Detect calls.
func (e *Engine) SetLeniency(v int) error {
	if v < 0 {
		return fmt.Errorf("%w: leniency %d < 0", ErrInvalidConfig, v)
	}
	e.leniency.Store(int64(v))
	return nil
}

// Leniency returns the current threshold.
func (e *Engine) Leniency() int {
	return int(e.leniency.Load())
}

// State returns the background lifecycle stage.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	switch {
	case e.background == nil:
		return StateEmpty
	case e.bgGrid == nil:
		return StateArmed
	default:
		return StateReady
	}
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Detections:   e.detections,
		Motions:      e.motions,
		ShapeChanges: e.shapeChanges,
		State:        e.stateLocked().String(),
	}
}
