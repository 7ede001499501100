// Package emitter publishes detector events to MQTT.
//
// Topics, relative to the configured base:
//
//	sensor/motion  retained {"value":true|false}; true on motion, false
//	               once no motion has been seen for clear_after
//	sensor/dark    retained {"value":true|false}; true on TooDark, false
//	               on motion or once no TooDark has been seen for clear_after
//	event          every event, JSON or msgpack
//	status         retained online/offline (see Client)
package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/events"
)

// Publisher is the transport used by Emitter. *Client implements it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}

// EventPayload is the wire form of an event.
type EventPayload struct {
	Kind       string `json:"kind" msgpack:"kind"`
	InstanceID string `json:"instance_id" msgpack:"instance_id"`
	SessionID  string `json:"session_id" msgpack:"session_id"`
	Seq        uint64 `json:"seq" msgpack:"seq"`
	Timestamp  string `json:"timestamp" msgpack:"timestamp"`
	Width      int    `json:"width" msgpack:"width"`
	Height     int    `json:"height" msgpack:"height"`
	LumaSum    int64  `json:"luma_sum" msgpack:"luma_sum"`
	TraceID    string `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
}

// StatePayload is the retained binary-sensor state.
type StatePayload struct {
	Value     bool   `json:"value"`
	Timestamp string `json:"timestamp"`
}

// Stats contains emitter statistics
type Stats struct {
	Connected    bool
	MotionActive bool
	Dark         bool
	Published    map[string]uint64
	Errors       uint64
}

// Emitter turns events into MQTT messages. It implements events.Sink and
// is meant to run on its own bus subscription.
type Emitter struct {
	cfg        config.MQTTConfig
	instanceID string
	clearAfter time.Duration
	pub        Publisher

	mu           sync.Mutex
	motionActive bool
	dark         bool
	clearTimer   *time.Timer
	motionGen    uint64
	darkTimer    *time.Timer
	darkGen      uint64
	closed       bool
	published    map[string]uint64
	errors       uint64
}

// New returns an emitter publishing through pub.
func New(cfg config.MQTTConfig, instanceID string, clearAfter time.Duration, pub Publisher) (*Emitter, error) {
	if pub == nil {
		return nil, fmt.Errorf("emitter: nil publisher")
	}
	if clearAfter <= 0 {
		return nil, fmt.Errorf("emitter: clear_after must be > 0, got %v", clearAfter)
	}
	switch cfg.Encoding {
	case "json", "msgpack":
	default:
		return nil, fmt.Errorf("emitter: unsupported encoding %q", cfg.Encoding)
	}
	return &Emitter{
		cfg:        cfg,
		instanceID: instanceID,
		clearAfter: clearAfter,
		pub:        pub,
		published:  make(map[string]uint64),
	}, nil
}

// Notify publishes ev and updates the retained state topics.
func (e *Emitter) Notify(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.publishEvent(ev)

	switch ev.Kind {
	case events.KindMotionDetected:
		if e.dark {
			e.dark = false
			e.darkGen++
			e.publishState("sensor/dark", false)
		}
		if !e.motionActive {
			e.motionActive = true
			e.publishState("sensor/motion", true)
		}
		e.armClear()

	case events.KindTooDark:
		if !e.dark {
			e.dark = true
			e.publishState("sensor/dark", true)
		}
		e.armDarkClear()
	}
}

// armClear (re)starts the motion reset timer. Each arm bumps a generation
// so a timer that already fired for an older motion does nothing.
func (e *Emitter) armClear() {
	e.motionGen++
	gen := e.motionGen
	if e.clearTimer != nil {
		e.clearTimer.Stop()
	}
	e.clearTimer = time.AfterFunc(e.clearAfter, func() { e.clearMotion(gen) })
}

func (e *Emitter) clearMotion(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || gen != e.motionGen || !e.motionActive {
		return
	}
	e.motionActive = false
	e.publishState("sensor/motion", false)
	slog.Debug("emitter: motion cleared", "after", e.clearAfter)
}

// armDarkClear (re)starts the dark reset timer. A dark scene reports
// TooDark on every sample, so clearAfter without one means light is back.
func (e *Emitter) armDarkClear() {
	e.darkGen++
	gen := e.darkGen
	if e.darkTimer != nil {
		e.darkTimer.Stop()
	}
	e.darkTimer = time.AfterFunc(e.clearAfter, func() { e.clearDark(gen) })
}

func (e *Emitter) clearDark(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || gen != e.darkGen || !e.dark {
		return
	}
	e.dark = false
	e.publishState("sensor/dark", false)
	slog.Debug("emitter: dark cleared", "after", e.clearAfter)
}

func (e *Emitter) publishEvent(ev events.Event) {
	p := EventPayload{
		Kind:       ev.Kind.String(),
		InstanceID: e.instanceID,
		SessionID:  ev.SessionID,
		Seq:        ev.Seq,
		Timestamp:  ev.At.UTC().Format(time.RFC3339Nano),
		Width:      ev.Width,
		Height:     ev.Height,
		LumaSum:    ev.LumaSum,
		TraceID:    ev.TraceID,
	}

	var (
		payload []byte
		err     error
	)
	if e.cfg.Encoding == "msgpack" {
		payload, err = msgpack.Marshal(&p)
	} else {
		payload, err = json.Marshal(p)
	}
	if err != nil {
		e.errors++
		slog.Error("emitter: failed to encode event", "error", err)
		return
	}
	e.send("event", false, payload)
}

func (e *Emitter) publishState(suffix string, value bool) {
	payload, err := json.Marshal(StatePayload{
		Value:     value,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		e.errors++
		return
	}
	e.send(suffix, true, payload)
}

func (e *Emitter) send(suffix string, retained bool, payload []byte) {
	topic := e.cfg.Topic(suffix)
	if err := e.pub.Publish(topic, e.cfg.QoS, retained, payload); err != nil {
		e.errors++
		slog.Warn("emitter: publish failed", "topic", topic, "error", err)
		return
	}
	e.published[topic]++
	slog.Debug("emitter: published", "topic", topic, "size", len(payload), "retained", retained)
}

// Close stops the clear timer and publishes motion false if it was
// active, so the retained state is not left stuck on true.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if e.clearTimer != nil {
		e.clearTimer.Stop()
	}
	if e.darkTimer != nil {
		e.darkTimer.Stop()
	}
	if e.motionActive {
		e.motionActive = false
		e.publishState("sensor/motion", false)
	}
	e.closed = true
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected:    e.pub.IsConnected(),
		MotionActive: e.motionActive,
		Dark:         e.dark,
		Published:    published,
		Errors:       e.errors,
	}
}
