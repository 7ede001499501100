package gstsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("gstsource: invalid config")

// Config describes one camera.
type Config struct {
	Kind   Kind
	Device string // V4L2 device path, e.g. /dev/video0
	URL    string // RTSP URL
	Width  int
	Height int
	FPS    float64
	Format luma.Format

	Reconnect ReconnectConfig
}

func (c Config) validate() error {
	switch c.Kind {
	case KindV4L2:
		if c.Device == "" {
			return fmt.Errorf("%w: v4l2 device is required", ErrInvalidConfig)
		}
	case KindRTSP:
		if c.URL == "" {
			return fmt.Errorf("%w: RTSP URL is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %d", ErrInvalidConfig, c.Kind)
	}
	// Unpadded 4:2:0 rows need width % 4 == 0 and an even height.
	if c.Width <= 0 || c.Height <= 0 || c.Width%4 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("%w: resolution %dx%d (width must be a multiple of 4, height even)",
			ErrInvalidConfig, c.Width, c.Height)
	}
	if c.FPS < 0.1 || c.FPS > 30 {
		return fmt.Errorf("%w: FPS %.2f (must be 0.1-30)", ErrInvalidConfig, c.FPS)
	}
	return nil
}

// Source is a capture.Source backed by GStreamer. Pipeline failures tear
// the pipeline down and rebuild it with exponential backoff.
type Source struct {
	cfg Config

	mu      sync.Mutex
	frames  chan capture.Frame
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	connected atomic.Bool
	seq       atomic.Uint64
	bytes     atomic.Uint64
	dropped   atomic.Uint64
	short     atomic.Uint64
	lastAt    atomic.Int64
	recon     reconnectState

	errNetwork atomic.Uint64
	errCodec   atomic.Uint64
	errAuth    atomic.Uint64
	errDevice  atomic.Uint64
	errUnknown atomic.Uint64
}

// New validates cfg and checks that GStreamer is usable.
func New(cfg Config) (*Source, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Reconnect.RetryDelay <= 0 || cfg.Reconnect.MaxRetryDelay <= 0 {
		def := DefaultReconnectConfig()
		cfg.Reconnect.RetryDelay = def.RetryDelay
		cfg.Reconnect.MaxRetryDelay = def.MaxRetryDelay
	}
	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("gstsource: %w", err)
	}

	slog.Info("gstsource: source created",
		"kind", cfg.Kind.String(),
		"device", cfg.Device,
		"url", cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"format", cfg.Format.String(),
	)
	return &Source{cfg: cfg}, nil
}

// Start launches the pipeline supervisor and returns the frame channel.
func (s *Source) Start(ctx context.Context) (<-chan capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("gstsource: already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.frames = make(chan capture.Frame, 10)
	s.started = time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := runWithReconnect(ctx, s.session, s.cfg.Reconnect, &s.recon)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("gstsource: capture stopped", "error", err, "uptime", time.Since(s.started))
		}
	}()

	return s.frames, nil
}

// session runs one pipeline until it fails (error returned) or ctx ends
// (nil returned).
func (s *Source) session(ctx context.Context) error {
	el, err := createPipeline(pipelineConfig{
		Kind:   s.cfg.Kind,
		Device: s.cfg.Device,
		URL:    s.cfg.URL,
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		FPS:    s.cfg.FPS,
		Format: s.cfg.Format,
	})
	if err != nil {
		return err
	}
	defer func() {
		s.connected.Store(false)
		if err := destroyPipeline(el); err != nil {
			slog.Error("gstsource: failed to destroy pipeline", "error", err)
		}
	}()

	sc := &sampleContext{
		out:      s.frames,
		seq:      &s.seq,
		bytes:    &s.bytes,
		dropped:  &s.dropped,
		short:    &s.short,
		lastAt:   &s.lastAt,
		width:    s.cfg.Width,
		height:   s.cfg.Height,
		format:   s.cfg.Format,
		minBytes: luma.FrameSize(s.cfg.Width, s.cfg.Height),
	}
	el.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return onNewSample(sink, sc)
		},
	})
	if el.Depay != nil {
		depay := el.Depay
		el.Src.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
			onPadAdded(pad, depay)
		})
	}

	if err := el.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	return s.monitor(ctx, el)
}

// monitor polls the pipeline bus with a short timeout so cancellation is
// noticed promptly.
func (s *Source) monitor(ctx context.Context, el *pipelineElements) error {
	bus := el.Pipeline.GetPipelineBus()
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			cat := classifyGError(gerr)
			s.countError(cat)
			slog.Error("gstsource: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", cat.String(),
				"frames", s.seq.Load(),
			)
			return fmt.Errorf("pipeline error [%s]: %s", cat, gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() != el.Pipeline.GetName() {
				continue
			}
			_, state := msg.ParseStateChanged()
			if state == gst.StatePlaying && !s.connected.Load() {
				s.connected.Store(true)
				s.recon.retries.Store(0)
				slog.Info("gstsource: pipeline playing", "kind", s.cfg.Kind.String())
			}
		}
	}
}

func (s *Source) countError(cat errorCategory) {
	switch cat {
	case errNetwork:
		s.errNetwork.Add(1)
	case errCodec:
		s.errCodec.Add(1)
	case errAuth:
		s.errAuth.Add(1)
	case errDevice:
		s.errDevice.Add(1)
	default:
		s.errUnknown.Add(1)
	}
}

// Stop cancels the supervisor, waits up to 3 seconds for the pipeline to
// shut down and closes the frame channel. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		close(s.frames)
	case <-time.After(3 * time.Second):
		// Leave the channel open: a late appsink callback may still send.
		err = fmt.Errorf("gstsource: stop timeout exceeded")
		slog.Warn("gstsource: stop timeout exceeded, pipeline may still be running")
	}

	slog.Info("gstsource: source stopped",
		"frames", s.seq.Load(),
		"reconnects", s.recon.reconnects.Load(),
		"uptime", time.Since(s.started),
	)
	s.cancel = nil
	return err
}

// Stats returns capture statistics.
func (s *Source) Stats() capture.Stats {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	count := s.seq.Load()
	dropped := s.dropped.Load()

	st := capture.Stats{
		FrameCount:    count,
		FramesDropped: dropped,
		FPSTarget:     s.cfg.FPS,
		Resolution:    fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		Reconnects:    s.recon.reconnects.Load(),
		BytesRead:     s.bytes.Load(),
		IsConnected:   s.connected.Load(),
		ErrorsNetwork: s.errNetwork.Load(),
		ErrorsCodec:   s.errCodec.Load(),
		ErrorsAuth:    s.errAuth.Load(),
		ErrorsDevice:  s.errDevice.Load(),
		ErrorsUnknown: s.errUnknown.Load(),
	}
	if count > 0 {
		st.DropRate = float64(dropped) / float64(count) * 100
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			st.FPSReal = float64(count) / elapsed
		}
	}
	if last := s.lastAt.Load(); last > 0 {
		st.LatencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}
	return st
}
