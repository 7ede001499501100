// Package capture acquires raw 4:2:0 frames from a camera and forwards them
// to the detector.
package capture

import (
	"context"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

// Frame is one raw camera frame.
type Frame struct {
	// Seq is the monotonic sequence number within one source.
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Format    luma.Format
	// Data holds the full frame (luma plane followed by chroma).
	Data []byte
	// TraceID is a unique identifier for log correlation.
	TraceID string
}

// Stats contains current source statistics.
type Stats struct {
	FrameCount    uint64
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100).
	DropRate  float64
	FPSTarget float64
	FPSReal   float64
	// LatencyMS is the time since the last frame.
	LatencyMS   int64
	Resolution  string
	Reconnects  uint32
	BytesRead   uint64
	IsConnected bool

	ErrorsNetwork uint64
	ErrorsCodec   uint64
	ErrorsAuth    uint64
	ErrorsDevice  uint64
	ErrorsUnknown uint64
}

// Source produces frames.
//
// Implementations must guarantee:
//   - Start returns immediately; frames arrive asynchronously
//   - the returned channel is closed by Stop
//   - frames are sent non-blocking; a full channel drops frames
//   - Stop is idempotent
//   - Stats is safe from any goroutine
type Source interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
	Stats() Stats
}
