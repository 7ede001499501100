package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

// SyntheticConfig configures a SyntheticSource.
type SyntheticConfig struct {
	Width  int
	Height int
	FPS    float64
	// Background is the luma level of the static scene.
	Background uint8
	// BlockSize is the side of the bright square that moves across the
	// scene. Zero disables it.
	BlockSize int
	// MoveEvery moves the block once every N frames (minimum 1).
	MoveEvery int
}

// SyntheticSource generates NV21 frames without a camera: a flat scene
// with a bright block that hops across it. Used for demos and tests.
type SyntheticSource struct {
	cfg SyntheticConfig

	dark atomic.Bool

	mu        sync.Mutex
	frames    chan Frame
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	startTime time.Time

	seq     atomic.Uint64
	dropped atomic.Uint64
	bytes   atomic.Uint64
	lastAt  atomic.Int64
}

// NewSyntheticSource validates cfg and returns a stopped source.
func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid synthetic size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 || cfg.FPS > 120 {
		return nil, fmt.Errorf("capture: invalid synthetic FPS %.2f (must be 0-120)", cfg.FPS)
	}
	if cfg.MoveEvery < 1 {
		cfg.MoveEvery = 1
	}
	return &SyntheticSource{cfg: cfg}, nil
}

// SetDark switches the scene to black (and back), for exercising the
// darkness gate.
func (s *SyntheticSource) SetDark(dark bool) {
	s.dark.Store(dark)
}

// Start begins generating frames.
func (s *SyntheticSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, fmt.Errorf("capture: synthetic source already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.frames = make(chan Frame, 10)
	s.running = true
	s.startTime = time.Now()

	slog.Info("capture: synthetic source starting",
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
	)

	s.wg.Add(1)
	go s.generate(ctx, s.frames)

	return s.frames, nil
}

func (s *SyntheticSource) generate(ctx context.Context, out chan<- Frame) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f := s.render(now)
			select {
			case out <- f:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// render draws the next frame of the scene.
func (s *SyntheticSource) render(now time.Time) Frame {
	w, h := s.cfg.Width, s.cfg.Height
	seq := s.seq.Add(1)
	data := make([]byte, luma.FrameSize(w, h))

	if !s.dark.Load() {
		for i := 0; i < w*h; i++ {
			data[i] = s.cfg.Background
		}
		if b := s.cfg.BlockSize; b > 0 && b <= w && b <= h {
			step := int(seq-1) / s.cfg.MoveEvery
			cols := w / b
			rows := h / b
			cell := step % (cols * rows)
			x0, y0 := (cell%cols)*b, (cell/cols)*b
			for y := y0; y < y0+b; y++ {
				for x := x0; x < x0+b; x++ {
					data[y*w+x] = 255
				}
			}
		}
	}
	// Neutral chroma.
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}

	s.bytes.Add(uint64(len(data)))
	s.lastAt.Store(now.UnixNano())

	return Frame{
		Seq:       seq,
		Timestamp: now,
		Width:     w,
		Height:    h,
		Format:    luma.FormatNV21,
		Data:      data,
		TraceID:   uuid.NewString(),
	}
}

// Stop stops generation and closes the frame channel.
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, frames := s.cancel, s.frames
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	close(frames)

	slog.Info("capture: synthetic source stopped", "frames", s.seq.Load(), "dropped", s.dropped.Load())
	return nil
}

// Stats returns source statistics.
func (s *SyntheticSource) Stats() Stats {
	s.mu.Lock()
	running, started := s.running, s.startTime
	s.mu.Unlock()

	count := s.seq.Load()
	dropped := s.dropped.Load()

	st := Stats{
		FrameCount:    count,
		FramesDropped: dropped,
		FPSTarget:     s.cfg.FPS,
		Resolution:    fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		BytesRead:     s.bytes.Load(),
		IsConnected:   running,
	}
	if count > 0 {
		st.DropRate = float64(dropped) / float64(count) * 100
	}
	if running && count > 0 {
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			st.FPSReal = float64(count) / elapsed
		}
	}
	if last := s.lastAt.Load(); last > 0 {
		st.LatencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}
	return st
}
