package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

func TestNewSyntheticSource_Validation(t *testing.T) {
	_, err := NewSyntheticSource(SyntheticConfig{Width: 0, Height: 10, FPS: 5})
	assert.Error(t, err)
	_, err = NewSyntheticSource(SyntheticConfig{Width: 10, Height: 10, FPS: 0})
	assert.Error(t, err)
}

func TestSyntheticSource_Render(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{Width: 8, Height: 4, FPS: 10, Background: 40, BlockSize: 4})
	require.NoError(t, err)

	f1 := src.render(time.Now())
	f2 := src.render(time.Now())

	require.Len(t, f1.Data, luma.FrameSize(8, 4))
	assert.Equal(t, uint64(1), f1.Seq)
	assert.NotEmpty(t, f1.TraceID)

	img1, err := luma.Decode(f1.Data, 8, 4)
	require.NoError(t, err)
	img2, err := luma.Decode(f2.Data, 8, 4)
	require.NoError(t, err)

	// Block hops from the left half to the right half.
	assert.Equal(t, uint8(255), img1.Pix[0])
	assert.Equal(t, uint8(40), img1.Pix[4])
	assert.Equal(t, uint8(40), img2.Pix[0])
	assert.Equal(t, uint8(255), img2.Pix[4])
	assert.Equal(t, img1.Sum(), img2.Sum())

	src.SetDark(true)
	dark, err := luma.Decode(src.render(time.Now()).Data, 8, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dark.Sum())
}

func TestSyntheticSource_StartStop(t *testing.T) {
	src, err := NewSyntheticSource(SyntheticConfig{Width: 4, Height: 4, FPS: 100, Background: 10})
	require.NoError(t, err)

	frames, err := src.Start(t.Context())
	require.NoError(t, err)
	_, err = src.Start(t.Context())
	assert.Error(t, err)

	select {
	case f := <-frames:
		assert.Equal(t, 4, f.Width)
	case <-time.After(time.Second):
		t.Fatal("no frame from synthetic source")
	}

	assert.True(t, src.Stats().IsConnected)
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())
	assert.False(t, src.Stats().IsConnected)

	for range frames {
		// drain until closed
	}
}

func TestPump(t *testing.T) {
	frames := make(chan Frame, 3)
	frames <- Frame{Seq: 1}
	frames <- Frame{Seq: 2}
	close(frames)

	var mu sync.Mutex
	var got []uint64
	n := Pump(t.Context(), frames, func(f Frame) {
		mu.Lock()
		got = append(got, f.Seq)
		mu.Unlock()
	})

	assert.Equal(t, uint64(2), n)
	assert.Equal(t, []uint64{1, 2}, got)
}

func TestPump_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan uint64)
	go func() { done <- Pump(ctx, make(chan Frame), func(Frame) {}) }()

	cancel()
	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(time.Second):
		t.Fatal("Pump did not return after cancel")
	}
}
