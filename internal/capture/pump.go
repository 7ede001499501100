package capture

import (
	"context"
	"log/slog"
)

// Pump forwards frames to consume until ctx is cancelled or the channel is
// closed. It returns the number of frames forwarded.
//
// consume is expected to be non-blocking (detector Consume is an atomic
// swap), so Pump adds no buffering of its own.
func Pump(ctx context.Context, frames <-chan Frame, consume func(Frame)) uint64 {
	var n uint64
	for {
		select {
		case <-ctx.Done():
			slog.Debug("capture: pump stopped", "reason", ctx.Err(), "forwarded", n)
			return n
		case f, ok := <-frames:
			if !ok {
				slog.Debug("capture: source closed", "forwarded", n)
				return n
			}
			consume(f)
			n++
		}
	}
}
