package motion

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/grid"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/scheduler"
)

// Re-exported types. The implementations live in internal packages.
type (
	// Frame is a raw 4:2:0 camera frame.
	Frame = scheduler.Frame
	// LumaImage is a decoded brightness map.
	LumaImage = luma.Image
	// PixelFormat is the frame's chroma layout.
	PixelFormat = luma.Format
	// Event is a detector notification.
	Event = events.Event
	// EventKind identifies an Event.
	EventKind = events.Kind
	// Sink receives events on a delivery goroutine.
	Sink = events.Sink
	// SinkFunc adapts a function to Sink.
	SinkFunc = events.SinkFunc
	// GridResult is the outcome of the last grid comparison.
	GridResult = grid.Result

	SchedulerStats  = scheduler.Stats
	EngineStats     = engine.Stats
	BusStats        = events.BusStats
	SubscriberStats = events.SubscriberStats
)

// Event kinds.
const (
	TooDark        = events.KindTooDark
	MotionDetected = events.KindMotionDetected
)

// Pixel formats.
const (
	FormatNV21 = luma.FormatNV21
	FormatNV12 = luma.FormatNV12
	FormatI420 = luma.FormatI420
)

// Errors.
var (
	ErrInvalidFrame   = luma.ErrInvalidFrame
	ErrInvalidInput   = engine.ErrInvalidInput
	ErrAlreadyStarted = scheduler.ErrAlreadyStarted
	ErrInvalidConfig  = errors.New("motion: invalid config")
	ErrStopped        = errors.New("motion: detector stopped")
)

// Config holds detector settings. Zero fields take DefaultConfig values
// except Verbosity, MinLuma and Leniency, where zero is meaningful.
type Config struct {
	// CheckInterval is the minimum time between two samples.
	CheckInterval time.Duration
	// MinLuma is the total brightness below which a frame is too dark.
	MinLuma int64
	// Leniency is the per-cell tolerance before a cell counts as changed.
	Leniency int
	XBoxes   int
	YBoxes   int
	// Verbosity > 0 keeps the per-cell diagnostic map; >= 2 also logs it.
	Verbosity int
	// SessionID tags every event. Empty generates a UUID.
	SessionID string
	// SinkBuffer is the delivery queue length of the primary sink.
	SinkBuffer int
}

// DefaultConfig returns a 500ms interval, min luma 1000, leniency 20 and a
// 10x10 grid.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 500 * time.Millisecond,
		MinLuma:       1000,
		Leniency:      20,
		XBoxes:        10,
		YBoxes:        10,
		SinkBuffer:    events.DefaultBuffer,
	}
}

// Stats is a snapshot of one detector session.
type Stats struct {
	SessionID string
	Leniency  int
	Scheduler SchedulerStats
	Engine    EngineStats
	Events    BusStats
}

// Detector is one motion detection session.
type Detector interface {
	// Start begins sampling. It returns immediately.
	Start(ctx context.Context) error
	// Stop halts sampling and flushes pending events to sinks. A stopped
	// detector cannot be restarted.
	Stop() error

	// Consume offers a raw NV21 frame. Never blocks. buf must not be
	// modified afterwards.
	Consume(buf []byte, width, height int)
	// ConsumeFrame offers a frame with metadata.
	ConsumeFrame(f Frame)

	SetCheckInterval(d time.Duration) error
	SetMinLuma(v int64) error
	SetLeniency(v int) error

	// LastRawImage returns a copy of the current background, or nil.
	LastRawImage() *LumaImage
	// LastResult returns the most recent grid comparison.
	LastResult() GridResult

	// Subscribe adds another sink with its own delivery goroutine.
	Subscribe(id string, sink Sink) error
	// Unsubscribe removes a sink after delivering its queued events.
	Unsubscribe(id string) error

	SessionID() string
	Stats() Stats
}
