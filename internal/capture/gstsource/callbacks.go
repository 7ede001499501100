package gstsource

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

// sampleContext is the state shared with the appsink callback.
type sampleContext struct {
	out      chan<- capture.Frame
	seq      *atomic.Uint64
	bytes    *atomic.Uint64
	dropped  *atomic.Uint64
	short    *atomic.Uint64
	lastAt   *atomic.Int64
	width    int
	height   int
	format   luma.Format
	minBytes int
}

// onNewSample copies the appsink buffer into a Frame and offers it to
// the output channel, dropping it when the channel is full. A bad sample
// is skipped rather than ending the stream.
func onNewSample(sink *app.Sink, sc *sampleContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstsource: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstsource: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < sc.minBytes {
		buffer.Unmap()
		sc.short.Add(1)
		slog.Warn("gstsource: short buffer", "bytes", len(data), "want", sc.minBytes)
		return gst.FlowOK
	}

	// GStreamer reuses the buffer once we return.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	now := time.Now()
	seq := sc.seq.Add(1)
	sc.bytes.Add(uint64(len(frameData)))
	sc.lastAt.Store(now.UnixNano())

	frame := capture.Frame{
		Seq:       seq,
		Timestamp: now,
		Width:     sc.width,
		Height:    sc.height,
		Format:    sc.format,
		Data:      frameData,
		TraceID:   uuid.NewString(),
	}

	select {
	case sc.out <- frame:
	default:
		sc.dropped.Add(1)
		slog.Debug("gstsource: dropping frame, channel full", "seq", seq)
	}
	return gst.FlowOK
}
