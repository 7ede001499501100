package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/scheduler"
)

const primarySink = "primary"

type detector struct {
	sessionID string
	engine    *engine.Engine
	sched     *scheduler.Scheduler
	bus       *events.Bus
	buffer    int

	mu      sync.Mutex
	stopped bool
}

// New builds a detector session. sink may be nil when sinks are added
// later with Subscribe.
func New(cfg Config, sink Sink) (Detector, error) {
	def := DefaultConfig()
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.XBoxes == 0 {
		cfg.XBoxes = def.XBoxes
	}
	if cfg.YBoxes == 0 {
		cfg.YBoxes = def.YBoxes
	}
	if cfg.SinkBuffer == 0 {
		cfg.SinkBuffer = def.SinkBuffer
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	eng, err := engine.New(engine.Config{
		Leniency:  cfg.Leniency,
		XBoxes:    cfg.XBoxes,
		YBoxes:    cfg.YBoxes,
		Verbosity: cfg.Verbosity,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	bus := events.NewBus()
	sched, err := scheduler.New(eng, bus, scheduler.Config{
		CheckInterval: cfg.CheckInterval,
		MinLuma:       cfg.MinLuma,
		SessionID:     cfg.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	d := &detector{
		sessionID: cfg.SessionID,
		engine:    eng,
		sched:     sched,
		bus:       bus,
		buffer:    cfg.SinkBuffer,
	}
	if sink != nil {
		if err := bus.Subscribe(primarySink, sink, cfg.SinkBuffer, events.DropNew); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *detector) Start(ctx context.Context) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	return d.sched.Start(ctx)
}

func (d *detector) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	err := d.sched.Stop()
	d.bus.Close()
	return err
}

func (d *detector) Consume(buf []byte, width, height int) {
	d.sched.Consume(scheduler.Frame{
		Data:      buf,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
	})
}

func (d *detector) ConsumeFrame(f Frame) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	d.sched.Consume(f)
}

func (d *detector) SetCheckInterval(v time.Duration) error { return d.sched.SetCheckInterval(v) }
func (d *detector) SetMinLuma(v int64) error               { return d.sched.SetMinLuma(v) }
func (d *detector) SetLeniency(v int) error                { return d.engine.SetLeniency(v) }
func (d *detector) LastRawImage() *LumaImage               { return d.engine.LastRawImage() }
func (d *detector) LastResult() GridResult                 { return d.engine.LastResult() }
func (d *detector) SessionID() string                      { return d.sessionID }

func (d *detector) Subscribe(id string, sink Sink) error {
	return d.bus.Subscribe(id, sink, d.buffer, events.DropNew)
}

func (d *detector) Unsubscribe(id string) error {
	return d.bus.Unsubscribe(id)
}

func (d *detector) Stats() Stats {
	return Stats{
		SessionID: d.sessionID,
		Leniency:  d.engine.Leniency(),
		Scheduler: d.sched.Stats(),
		Engine:    d.engine.Stats(),
		Events:    d.bus.Stats(),
	}
}
