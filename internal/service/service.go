// Package service wires the detector to its camera, MQTT and HTTP
// surfaces and owns their lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-care-sensor/modules/motion"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/capture/gstsource"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/health"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

const (
	mqttSink       = "mqtt"
	statsLogPeriod = 30 * time.Second
)

// Service is the motiond orchestrator.
type Service struct {
	cfg *config.Config

	det    motion.Detector
	source capture.Source
	health *health.Server

	// Set in Run when MQTT is enabled.
	client  *emitter.Client
	emitter *emitter.Emitter
	control *control.Handler

	started   time.Time
	mu        sync.RWMutex
	isRunning bool
}

// New builds every component from cfg. Nothing is started.
func New(cfg *config.Config) (*Service, error) {
	det, err := motion.New(motion.Config{
		CheckInterval: cfg.Motion.CheckInterval(),
		MinLuma:       cfg.Motion.MinLuma,
		Leniency:      cfg.Motion.Leniency,
		XBoxes:        cfg.Motion.XBoxes,
		YBoxes:        cfg.Motion.YBoxes,
		Verbosity:     cfg.Motion.Verbosity,
	}, motion.SinkFunc(logEvent))
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	src, err := newSource(cfg.Camera)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture source: %w", err)
	}

	s := &Service{
		cfg:    cfg,
		det:    det,
		source: src,
	}
	if cfg.Health.Enabled {
		s.health = health.New(cfg.Health.Addr, s)
	}

	slog.Info("service: configured",
		"instance_id", cfg.InstanceID,
		"session_id", det.SessionID(),
		"source", cfg.Camera.Source,
		"mqtt", cfg.MQTT.Enabled,
		"health", cfg.Health.Enabled,
	)
	return s, nil
}

func newSource(c config.CameraConfig) (capture.Source, error) {
	switch c.Source {
	case "synthetic":
		return capture.NewSyntheticSource(capture.SyntheticConfig{
			Width:      c.Width,
			Height:     c.Height,
			FPS:        c.FPS,
			Background: uint8(c.Background),
			BlockSize:  c.BlockSize,
			MoveEvery:  c.MoveEvery,
		})
	case "v4l2", "rtsp":
		format, err := luma.ParseFormat(c.Format)
		if err != nil {
			return nil, err
		}
		gc := gstsource.Config{
			Kind:      gstsource.KindV4L2,
			Device:    c.Device,
			URL:       c.RTSPURL,
			Width:     c.Width,
			Height:    c.Height,
			FPS:       c.FPS,
			Format:    format,
			Reconnect: gstsource.DefaultReconnectConfig(),
		}
		if c.Source == "rtsp" {
			gc.Kind = gstsource.KindRTSP
		}
		return gstsource.New(gc)
	default:
		return nil, fmt.Errorf("unknown source %q", c.Source)
	}
}

func logEvent(ev motion.Event) {
	slog.Info("service: motion event",
		"kind", ev.Kind.String(),
		"seq", ev.Seq,
		"luma_sum", ev.LumaSum,
		"trace_id", ev.TraceID,
	)
}

// Run starts the service and blocks until ctx is cancelled or a
// component fails.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	if err := s.det.Start(ctx); err != nil {
		return fmt.Errorf("failed to start detector: %w", err)
	}

	if s.cfg.MQTT.Enabled {
		if err := s.startMQTT(ctx); err != nil {
			return err
		}
	}

	frames, err := s.source.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n := capture.Pump(gctx, frames, s.consume)
		slog.Info("service: frame pump stopped", "frames", n)
		return nil
	})

	if s.health != nil {
		g.Go(func() error {
			return s.health.Run(gctx)
		})
	}

	g.Go(func() error {
		s.logStats(gctx)
		return nil
	})

	slog.Info("service: running", "instance_id", s.cfg.InstanceID)

	err = g.Wait()
	slog.Info("service: run loop exiting")
	return err
}

func (s *Service) startMQTT(ctx context.Context) error {
	client, err := emitter.Connect(ctx, s.cfg.MQTT)
	if err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	em, err := emitter.New(s.cfg.MQTT, s.cfg.InstanceID, s.cfg.Motion.ClearAfter(), client)
	if err != nil {
		client.Disconnect()
		return fmt.Errorf("failed to create emitter: %w", err)
	}
	if err := s.det.Subscribe(mqttSink, em); err != nil {
		client.Disconnect()
		return fmt.Errorf("failed to subscribe emitter: %w", err)
	}

	ctl := control.NewHandler(s.cfg.MQTT.BaseTopic, s.cfg.MQTT.QoS, client, control.CommandCallbacks{
		OnGetStatus:        s.status,
		OnSetLeniency:      s.det.SetLeniency,
		OnSetMinLuma:       s.det.SetMinLuma,
		OnSetCheckInterval: s.det.SetCheckInterval,
	})
	if err := ctl.Start(ctx); err != nil {
		if uerr := s.det.Unsubscribe(mqttSink); uerr != nil {
			slog.Warn("service: failed to detach emitter", "error", uerr)
		}
		em.Close()
		client.Disconnect()
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.emitter = em
	s.control = ctl
	s.mu.Unlock()
	return nil
}

func (s *Service) consume(f capture.Frame) {
	s.det.ConsumeFrame(motion.Frame{
		Data:      f.Data,
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		TraceID:   f.TraceID,
	})
}

func (s *Service) logStats(ctx context.Context) {
	ticker := time.NewTicker(statsLogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.det.Stats()
			cs := s.source.Stats()
			slog.Info("service: stats",
				"consumed", st.Scheduler.Consumed,
				"coalesced", st.Scheduler.Coalesced,
				"ticks", st.Scheduler.Ticks,
				"motions", st.Scheduler.Motions,
				"too_dark", st.Scheduler.TooDark,
				"engine_state", st.Engine.State,
				"fps_real", cs.FPSReal,
				"capture_connected", cs.IsConnected,
			)
		}
	}
}

// Shutdown stops capture, then the detector (flushing pending events to
// the emitter), then the MQTT side and finally the health server.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	uptime := time.Since(s.started)
	client, em, ctl := s.client, s.emitter, s.control
	s.mu.Unlock()

	slog.Info("service: shutting down")

	var errs []error

	slog.Info("service: stopping capture")
	if err := s.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}

	slog.Info("service: stopping detector")
	if err := s.det.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}

	if ctl != nil {
		slog.Info("service: stopping control handler")
		if err := ctl.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("control: %w", err))
		}
	}
	if em != nil {
		em.Close()
	}
	if client != nil {
		client.Disconnect()
	}

	if s.health != nil {
		if err := s.health.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown deadline: %w", err))
	}

	slog.Info("service: shutdown complete", "uptime", uptime)
	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// Detector exposes the running session.
func (s *Service) Detector() motion.Detector {
	return s.det
}

// Snapshot implements health.Provider.
func (s *Service) Snapshot() health.Snapshot {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	return health.Snapshot{
		InstanceID:    s.cfg.InstanceID,
		Detector:      s.det.Stats(),
		Capture:       s.source.Stats(),
		MQTTEnabled:   s.cfg.MQTT.Enabled,
		MQTTConnected: client != nil && client.IsConnected(),
	}
}

// LastResult implements health.Provider.
func (s *Service) LastResult() motion.GridResult { return s.det.LastResult() }

// LastRawImage implements health.Provider.
func (s *Service) LastRawImage() *motion.LumaImage { return s.det.LastRawImage() }

func (s *Service) status() map[string]interface{} {
	st := s.det.Stats()
	cs := s.source.Stats()

	s.mu.RLock()
	uptime := time.Since(s.started)
	em := s.emitter
	s.mu.RUnlock()

	out := map[string]interface{}{
		"instance_id":       s.cfg.InstanceID,
		"session_id":        st.SessionID,
		"uptime_s":          int64(uptime.Seconds()),
		"engine_state":      st.Engine.State,
		"leniency":          st.Leniency,
		"min_luma":          st.Scheduler.MinLuma,
		"check_interval_ms": st.Scheduler.CheckInterval.Milliseconds(),
		"frames_consumed":   st.Scheduler.Consumed,
		"motions":           st.Scheduler.Motions,
		"too_dark":          st.Scheduler.TooDark,
		"capture_connected": cs.IsConnected,
		"fps_real":          cs.FPSReal,
	}
	if em != nil {
		es := em.Stats()
		out["motion_active"] = es.MotionActive
		out["dark"] = es.Dark
	}
	return out
}
