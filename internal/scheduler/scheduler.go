// Package scheduler samples the latest camera frame at a fixed interval and
// runs it through the darkness gate and the motion engine.
//
// Camera callbacks arrive far faster than detection needs (30 fps versus one
// check every 500ms). The scheduler therefore keeps only the newest frame in
// a single-slot mailbox and a worker goroutine samples that slot on its own
// clock.
//
// Goroutine topology:
//   - N external producers calling Consume (camera callback thread)
//   - 1 worker: the sampling loop (spawned by Start, stopped by Stop)
//
// The engine and its background are touched only by the worker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

// DefaultPollInterval is the worker wake-up granularity.
const DefaultPollInterval = 10 * time.Millisecond

var (
	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler: already started")

	// ErrInvalidConfig is returned for a non-positive interval or negative
	// luma threshold.
	ErrInvalidConfig = errors.New("scheduler: invalid config")
)

// Detector is the motion engine contract used by the worker.
type Detector interface {
	Detect(img *luma.Image, width, height int) (bool, error)
}

// Frame is one raw camera frame. Data, Width and Height travel together so
// a sampled frame is never torn between two producers.
//
// Data MUST NOT be modified after Consume.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    luma.Format
	Timestamp time.Time
	TraceID   string
}

// Config holds sampling parameters.
type Config struct {
	CheckInterval time.Duration
	MinLuma       int64
	PollInterval  time.Duration
	SessionID     string
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Consumed      uint64
	Coalesced     uint64 // frames overwritten before any tick saw them
	Ticks         uint64
	EmptyTicks    uint64
	InvalidFrames uint64
	TooDark       uint64
	Motions       uint64
	DetectErrors  uint64
	Panics        uint64
	Events        uint64
	CheckInterval time.Duration
	MinLuma       int64
	Running       bool
}

type slot struct {
	frame Frame
	seen  atomic.Bool
}

// Scheduler owns the latest-frame slot and the sampling worker.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Scheduler struct {
	detector  Detector
	sink      events.Sink
	sessionID string
	poll      time.Duration

	latest        atomic.Pointer[slot]
	checkInterval atomic.Int64 // nanoseconds
	minLuma       atomic.Int64
	seq           atomic.Uint64

	consumed      atomic.Uint64
	coalesced     atomic.Uint64
	ticks         atomic.Uint64
	emptyTicks    atomic.Uint64
	invalidFrames atomic.Uint64
	tooDark       atomic.Uint64
	motions       atomic.Uint64
	detectErrors  atomic.Uint64
	panics        atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New validates cfg and returns a stopped scheduler.
//
// sink must not block; wrap slow consumers in an events.Bus.
func New(det Detector, sink events.Sink, cfg Config) (*Scheduler, error) {
	if det == nil {
		return nil, fmt.Errorf("%w: nil detector", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("%w: check interval %v", ErrInvalidConfig, cfg.CheckInterval)
	}
	if cfg.MinLuma < 0 {
		return nil, fmt.Errorf("%w: min luma %d", ErrInvalidConfig, cfg.MinLuma)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Scheduler{
		detector:  det,
		sink:      sink,
		sessionID: cfg.SessionID,
		poll:      cfg.PollInterval,
	}
	s.checkInterval.Store(int64(cfg.CheckInterval))
	s.minLuma.Store(cfg.MinLuma)
	return s, nil
}

// Consume replaces the latest-frame slot with f.
//
// Semantics:
//   - Non-blocking, O(1): one atomic swap
//   - Last write wins; a frame replaced before any tick read it is counted
//     in Stats().Coalesced
//   - Accepted before Start and after Stop (the slot just holds the frame)
func (s *Scheduler) Consume(f Frame) {
	s.consumed.Add(1)
	old := s.latest.Swap(&slot{frame: f})
	if old != nil && !old.seen.Load() {
		s.coalesced.Add(1)
	}
}

// Start spawns the sampling worker and returns immediately.
//
// The worker runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)

	slog.Info("scheduler: started",
		"session_id", s.sessionID,
		"check_interval", s.CheckInterval(),
		"min_luma", s.minLuma.Load(),
	)
	return nil
}

// Stop cancels the worker and waits for it to exit. A tick in progress
// completes first. Idempotent.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done

	slog.Info("scheduler: stopped", "session_id", s.sessionID, "ticks", s.ticks.Load())
	return nil
}

// loop wakes every poll interval and runs a tick once checkInterval has
// elapsed since the previous one. The first wake-up always ticks.
//
// Ticker times carry a monotonic reading, so wall-clock jumps do not
// stall or burst sampling.
//
// When ctx ends on its own the scheduler reports itself stopped; a later
// Start may run it again.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !last.IsZero() && now.Sub(last) < s.CheckInterval() {
				continue
			}
			last = now
			s.safeTick(now)
		}
	}
}

func (s *Scheduler) safeTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			slog.Error("scheduler: tick panicked", "session_id", s.sessionID, "panic", r)
		}
	}()
	s.tick(now)
}

// tick samples the slot once.
//
// Algorithm:
//  1. Read the slot without clearing it; empty means nothing to do
//  2. Decode the luma plane; a malformed frame abandons the tick
//  3. Total luma below minLuma emits TooDark and leaves the background alone
//  4. Otherwise run the engine; true emits MotionDetected
func (s *Scheduler) tick(now time.Time) {
	s.ticks.Add(1)

	sl := s.latest.Load()
	if sl == nil {
		s.emptyTicks.Add(1)
		return
	}
	sl.seen.Store(true)
	f := sl.frame

	img, err := luma.Decode(f.Data, f.Width, f.Height)
	if err != nil {
		s.invalidFrames.Add(1)
		slog.Warn("scheduler: frame rejected", "session_id", s.sessionID, "trace_id", f.TraceID, "error", err)
		return
	}

	sum := img.Sum()
	if sum < s.minLuma.Load() {
		s.tooDark.Add(1)
		slog.Debug("scheduler: too dark", "session_id", s.sessionID, "luma_sum", sum)
		s.emit(events.KindTooDark, f, sum, now)
		return
	}

	moved, err := s.detector.Detect(img, f.Width, f.Height)
	if err != nil {
		s.detectErrors.Add(1)
		slog.Error("scheduler: detect failed", "session_id", s.sessionID, "trace_id", f.TraceID, "error", err)
		return
	}
	if moved {
		s.motions.Add(1)
		slog.Debug("scheduler: motion", "session_id", s.sessionID, "trace_id", f.TraceID)
		s.emit(events.KindMotionDetected, f, sum, now)
	}
}

func (s *Scheduler) emit(kind events.Kind, f Frame, sum int64, now time.Time) {
	s.sink.Notify(events.Event{
		Kind:      kind,
		SessionID: s.sessionID,
		Seq:       s.seq.Add(1),
		At:        now,
		Width:     f.Width,
		Height:    f.Height,
		LumaSum:   sum,
		TraceID:   f.TraceID,
	})
}

// SetCheckInterval changes the sampling interval, effective next wake-up.
func (s *Scheduler) SetCheckInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: check interval %v", ErrInvalidConfig, d)
	}
	s.checkInterval.Store(int64(d))
	return nil
}

// CheckInterval returns the current sampling interval.
func (s *Scheduler) CheckInterval() time.Duration {
	return time.Duration(s.checkInterval.Load())
}

// SetMinLuma changes the darkness threshold, effective next tick.
func (s *Scheduler) SetMinLuma(v int64) error {
	if v < 0 {
		return fmt.Errorf("%w: min luma %d", ErrInvalidConfig, v)
	}
	s.minLuma.Store(v)
	return nil
}

// MinLuma returns the current darkness threshold.
func (s *Scheduler) MinLuma() int64 {
	return s.minLuma.Load()
}

// SetLeniency forwards to the detector when it supports live tuning.
func (s *Scheduler) SetLeniency(v int) error {
	t, ok := s.detector.(interface{ SetLeniency(int) error })
	if !ok {
		return fmt.Errorf("%w: detector does not support leniency changes", ErrInvalidConfig)
	}
	return t.SetLeniency(v)
}

// Stats returns a snapshot of counters and live settings.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return Stats{
		Consumed:      s.consumed.Load(),
		Coalesced:     s.coalesced.Load(),
		Ticks:         s.ticks.Load(),
		EmptyTicks:    s.emptyTicks.Load(),
		InvalidFrames: s.invalidFrames.Load(),
		TooDark:       s.tooDark.Load(),
		Motions:       s.motions.Load(),
		DetectErrors:  s.detectErrors.Load(),
		Panics:        s.panics.Load(),
		Events:        s.seq.Load(),
		CheckInterval: s.CheckInterval(),
		MinLuma:       s.minLuma.Load(),
		Running:       running,
	}
}
