package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

func uniform(w, h int, v uint8) *luma.Image {
	img := &luma.Image{Width: w, Height: h, Pix: make([]uint8, w*h)}
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Leniency: -1, XBoxes: 2, YBoxes: 2})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(Config{XBoxes: 0, YBoxes: 2})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	e, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 20, e.Leniency())
	assert.Equal(t, StateEmpty, e.State())
}

func TestDetect_FirstFrameNeverMotion(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	moved, err := e.Detect(uniform(20, 20, 255), 20, 20)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, StateArmed, e.State())
}

func TestDetect_NilAndMismatchedInput(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	_, err := e.Detect(nil, 4, 4)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = e.Detect(uniform(4, 4, 0), 8, 2)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	assert.Equal(t, StateEmpty, e.State(), "rejected input must not seed the background")
}

func TestDetect_ShapeChangeIsMotion(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	_, err := e.Detect(uniform(20, 20, 50), 20, 20)
	require.NoError(t, err)

	moved, err := e.Detect(uniform(10, 10, 50), 10, 10)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, StateArmed, e.State(), "grid cache dropped on shape change")

	// Same pixel count, transposed: still a shape change.
	_, err = e.Detect(uniform(20, 5, 50), 20, 5)
	require.NoError(t, err)
	moved, err = e.Detect(uniform(5, 20, 50), 5, 20)
	require.NoError(t, err)
	assert.True(t, moved)

	assert.Equal(t, uint64(2), e.Stats().ShapeChanges)
}

func TestDetect_QuadrantScenario(t *testing.T) {
	e := newEngine(t, Config{Leniency: 5, XBoxes: 2, YBoxes: 2})

	moved, err := e.Detect(uniform(4, 4, 0), 4, 4)
	require.NoError(t, err)
	assert.False(t, moved)

	// Top-right quadrant lights up: that cell goes from 0 to 400.
	lit := uniform(4, 4, 0)
	for y := 0; y < 2; y++ {
		for x := 2; x < 4; x++ {
			lit.Pix[y*4+x] = 100
		}
	}

	moved, err = e.Detect(lit, 4, 4)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, 1, e.LastResult().ChangedCells)

	// Background drifted to the lit frame; an identical frame is quiet.
	again := lit.Clone()
	moved, err = e.Detect(again, 4, 4)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestDetect_BackgroundReplacedRegardlessOfVerdict(t *testing.T) {
	e := newEngine(t, Config{Leniency: 1000, XBoxes: 1, YBoxes: 1})

	_, _ = e.Detect(uniform(2, 2, 10), 2, 2)
	moved, err := e.Detect(uniform(2, 2, 12), 2, 2)
	require.NoError(t, err)
	assert.False(t, moved)

	bg := e.LastRawImage()
	require.NotNil(t, bg)
	assert.Equal(t, uint8(12), bg.Pix[0])
}

func TestLastRawImage_IsCopy(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	assert.Nil(t, e.LastRawImage())

	_, _ = e.Detect(uniform(4, 4, 9), 4, 4)
	a := e.LastRawImage()
	a.Pix[0] = 0

	assert.Equal(t, uint8(9), e.LastRawImage().Pix[0])
}

func TestSetLeniency(t *testing.T) {
	e := newEngine(t, Config{Leniency: 0, XBoxes: 1, YBoxes: 1})
	_, _ = e.Detect(uniform(2, 2, 10), 2, 2)

	require.NoError(t, e.SetLeniency(100))
	moved, err := e.Detect(uniform(2, 2, 30), 2, 2) // delta 80
	require.NoError(t, err)
	assert.False(t, moved)

	require.NoError(t, e.SetLeniency(0))
	moved, err = e.Detect(uniform(2, 2, 31), 2, 2)
	require.NoError(t, err)
	assert.True(t, moved)

	assert.True(t, errors.Is(e.SetLeniency(-1), ErrInvalidConfig))
	assert.Equal(t, 0, e.Leniency())
}

func TestStats(t *testing.T) {
	e := newEngine(t, Config{Leniency: 0, XBoxes: 1, YBoxes: 1})
	_, _ = e.Detect(uniform(2, 2, 1), 2, 2)
	_, _ = e.Detect(uniform(2, 2, 2), 2, 2)
	_, _ = e.Detect(uniform(2, 2, 2), 2, 2)

	s := e.Stats()
	assert.Equal(t, uint64(3), s.Detections)
	assert.Equal(t, uint64(1), s.Motions)
	assert.Equal(t, "ready", s.State)
}
