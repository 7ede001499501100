// Package health serves liveness, readiness and diagnostic endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/e7canasta/orion-care-sensor/modules/motion"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/capture"
)

// Snapshot is the raw service state the readiness check is computed from.
type Snapshot struct {
	InstanceID    string
	Detector      motion.Stats
	Capture       capture.Stats
	MQTTEnabled   bool
	MQTTConnected bool
}

// Provider supplies state to the handlers.
type Provider interface {
	Snapshot() Snapshot
	LastResult() motion.GridResult
	LastRawImage() *motion.LumaImage
}

// HostMetrics is host resource usage.
type HostMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
}

// DetectorHealth summarises the detector session.
type DetectorHealth struct {
	SessionID     string `json:"session_id"`
	Running       bool   `json:"running"`
	State         string `json:"state"`
	Leniency      int    `json:"leniency"`
	MinLuma       int64  `json:"min_luma"`
	CheckInterval string `json:"check_interval"`
	Consumed      uint64 `json:"frames_consumed"`
	Coalesced     uint64 `json:"frames_coalesced"`
	Ticks         uint64 `json:"ticks"`
	Motions       uint64 `json:"motions"`
	TooDark       uint64 `json:"too_dark"`
	Errors        uint64 `json:"errors"`
	EventsDropped uint64 `json:"events_dropped"`
}

// CaptureHealth summarises the frame source.
type CaptureHealth struct {
	Connected  bool    `json:"connected"`
	Resolution string  `json:"resolution"`
	FPSTarget  float64 `json:"fps_target"`
	FPSReal    float64 `json:"fps_real"`
	Frames     uint64  `json:"frames"`
	DropRate   float64 `json:"drop_rate"`
	LatencyMS  int64   `json:"latency_ms"`
	Reconnects uint32  `json:"reconnects"`
}

// Status represents the health state of the service
type Status struct {
	Status        string         `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID    string         `json:"instance_id"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	MQTTEnabled   bool           `json:"mqtt_enabled"`
	MQTTConnected bool           `json:"mqtt_connected"`
	Detector      DetectorHealth `json:"detector"`
	Capture       CaptureHealth  `json:"capture"`
	Host          *HostMetrics   `json:"host,omitempty"`
}

// Server is the health HTTP server.
type Server struct {
	addr     string
	provider Provider
	started  time.Time
	server   *http.Server
}

// New returns a server for addr. It does not listen until Run.
func New(addr string, provider Provider) *Server {
	s := &Server{
		addr:     addr,
		provider: provider,
		started:  time.Now(),
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.liveness)
	mux.HandleFunc("/readiness", s.readiness)
	mux.HandleFunc("/debug/grid", s.debugGrid)
	mux.HandleFunc("/debug/luma.png", s.debugLuma)
	return mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", s.addr, err)
	}

	slog.Info("health: server listening",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/debug/grid", "/debug/luma.png"},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	return nil
}

// Check computes the current status. Host metrics are included only
// when withHost is set since sampling them takes a moment.
func (s *Server) Check(ctx context.Context, withHost bool) Status {
	snap := s.provider.Snapshot()
	det := snap.Detector

	var dropped uint64
	for _, sub := range det.Events.Subscribers {
		dropped += sub.Dropped
	}

	st := Status{
		Status:        "healthy",
		InstanceID:    snap.InstanceID,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		MQTTEnabled:   snap.MQTTEnabled,
		MQTTConnected: snap.MQTTConnected,
		Detector: DetectorHealth{
			SessionID:     det.SessionID,
			Running:       det.Scheduler.Running,
			State:         det.Engine.State,
			Leniency:      det.Leniency,
			MinLuma:       det.Scheduler.MinLuma,
			CheckInterval: det.Scheduler.CheckInterval.String(),
			Consumed:      det.Scheduler.Consumed,
			Coalesced:     det.Scheduler.Coalesced,
			Ticks:         det.Scheduler.Ticks,
			Motions:       det.Scheduler.Motions,
			TooDark:       det.Scheduler.TooDark,
			Errors:        det.Scheduler.DetectErrors + det.Scheduler.InvalidFrames + det.Scheduler.Panics,
			EventsDropped: dropped,
		},
		Capture: CaptureHealth{
			Connected:  snap.Capture.IsConnected,
			Resolution: snap.Capture.Resolution,
			FPSTarget:  snap.Capture.FPSTarget,
			FPSReal:    snap.Capture.FPSReal,
			Frames:     snap.Capture.FrameCount,
			DropRate:   snap.Capture.DropRate,
			LatencyMS:  snap.Capture.LatencyMS,
			Reconnects: snap.Capture.Reconnects,
		},
	}

	switch {
	case !st.Detector.Running:
		st.Status = "unhealthy"
	case !st.Capture.Connected, st.MQTTEnabled && !st.MQTTConnected:
		st.Status = "degraded"
	}

	if withHost {
		st.Host = hostMetrics(ctx)
	}
	return st
}

func hostMetrics(ctx context.Context) *HostMetrics {
	h := &HostMetrics{}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		h.CPUPercent = pct[0]
	} else if err != nil {
		slog.Debug("health: cpu sample failed", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemPercent = vm.UsedPercent
		h.MemUsedBytes = vm.Used
		h.MemTotalBytes = vm.Total
	} else {
		slog.Debug("health: memory sample failed", "error", err)
	}
	return h
}

// liveness handles /health. Returns 200 while the process is serving.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// readiness handles /readiness. Degraded still counts as ready.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	st := s.Check(r.Context(), true)

	code := http.StatusOK
	if st.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (s *Server) debugGrid(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, s.provider.LastResult().String())
}

func (s *Server) debugLuma(w http.ResponseWriter, _ *http.Request) {
	img := s.provider.LastRawImage()
	if img == nil {
		http.Error(w, "no background yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img.Gray()); err != nil {
		slog.Warn("health: png encode failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: response encode failed", "error", err)
	}
}
