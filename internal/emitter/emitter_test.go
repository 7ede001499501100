package emitter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/scheduler"
)

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	fail bool
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.msgs = append(p.msgs, message{topic, retained, payload})
	return nil
}

func (p *fakePublisher) IsConnected() bool { return !p.fail }

func (p *fakePublisher) on(topic string) []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []message
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func stateValue(t *testing.T, m message) bool {
	t.Helper()
	var s StatePayload
	require.NoError(t, json.Unmarshal(m.payload, &s))
	return s.Value
}

func mqttConfig(encoding string) config.MQTTConfig {
	return config.MQTTConfig{BaseTopic: "care/motion/test", QoS: 1, Encoding: encoding}
}

func newEmitter(t *testing.T, encoding string, clearAfter time.Duration) (*Emitter, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	e, err := New(mqttConfig(encoding), "test", clearAfter, pub)
	require.NoError(t, err)
	return e, pub
}

func motionEvent(seq uint64) events.Event {
	return events.Event{
		Kind:      events.KindMotionDetected,
		SessionID: "s1",
		Seq:       seq,
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Width:     320,
		Height:    240,
		LumaSum:   123456,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(mqttConfig("json"), "x", time.Second, nil)
	assert.Error(t, err)
	_, err = New(mqttConfig("json"), "x", 0, &fakePublisher{})
	assert.Error(t, err)
	_, err = New(mqttConfig("xml"), "x", time.Second, &fakePublisher{})
	assert.Error(t, err)
}

func TestNotify_MotionSetsStateOnce(t *testing.T) {
	e, pub := newEmitter(t, "json", time.Hour)
	defer e.Close()

	e.Notify(motionEvent(1))
	e.Notify(motionEvent(2))

	state := pub.on("care/motion/test/sensor/motion")
	require.Len(t, state, 1)
	assert.True(t, state[0].retained)
	assert.True(t, stateValue(t, state[0]))

	evs := pub.on("care/motion/test/event")
	require.Len(t, evs, 2)
	assert.False(t, evs[0].retained)

	var p EventPayload
	require.NoError(t, json.Unmarshal(evs[1].payload, &p))
	assert.Equal(t, EventPayload{
		Kind:       "motion_detected",
		InstanceID: "test",
		SessionID:  "s1",
		Seq:        2,
		Timestamp:  "2026-01-02T03:04:05Z",
		Width:      320,
		Height:     240,
		LumaSum:    123456,
	}, p)

	assert.True(t, e.Stats().MotionActive)
}

func TestNotify_MotionClearsAfterQuietPeriod(t *testing.T) {
	e, pub := newEmitter(t, "json", 30*time.Millisecond)
	defer e.Close()

	e.Notify(motionEvent(1))

	require.Eventually(t, func() bool {
		return len(pub.on("care/motion/test/sensor/motion")) == 2
	}, time.Second, 5*time.Millisecond)

	state := pub.on("care/motion/test/sensor/motion")
	assert.False(t, stateValue(t, state[1]))
	assert.False(t, e.Stats().MotionActive)
}

func TestNotify_RepeatedMotionExtendsTimer(t *testing.T) {
	e, pub := newEmitter(t, "json", 60*time.Millisecond)
	defer e.Close()

	e.Notify(motionEvent(1))
	time.Sleep(40 * time.Millisecond)
	e.Notify(motionEvent(2))
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first event, but only 40ms after the second.
	assert.Len(t, pub.on("care/motion/test/sensor/motion"), 1)
	assert.True(t, e.Stats().MotionActive)
}

func TestNotify_DarkTransitions(t *testing.T) {
	e, pub := newEmitter(t, "json", time.Hour)
	defer e.Close()

	dark := events.Event{Kind: events.KindTooDark, At: time.Now()}
	e.Notify(dark)
	e.Notify(dark)
	e.Notify(motionEvent(3))

	state := pub.on("care/motion/test/sensor/dark")
	require.Len(t, state, 2)
	assert.True(t, stateValue(t, state[0]))
	assert.False(t, stateValue(t, state[1]))
	assert.False(t, e.Stats().Dark)
}

func TestNotify_DarkClearsWhenTooDarkStops(t *testing.T) {
	e, pub := newEmitter(t, "json", 30*time.Millisecond)
	defer e.Close()

	dark := events.Event{Kind: events.KindTooDark, At: time.Now()}
	e.Notify(dark)
	e.Notify(dark)

	require.Eventually(t, func() bool {
		return len(pub.on("care/motion/test/sensor/dark")) == 2
	}, time.Second, 5*time.Millisecond)

	state := pub.on("care/motion/test/sensor/dark")
	assert.True(t, stateValue(t, state[0]))
	assert.False(t, stateValue(t, state[1]))
	assert.False(t, e.Stats().Dark)
	assert.Empty(t, pub.on("care/motion/test/sensor/motion"))
}

func nv21Frame(w, h int, v byte) scheduler.Frame {
	data := make([]byte, w*h*3/2)
	for i := 0; i < w*h; i++ {
		data[i] = v
	}
	return scheduler.Frame{Data: data, Width: w, Height: h}
}

// A dark spell followed by a bright, static scene: the scheduler goes
// silent once the light returns and the dark state must still reset.
func TestEmitter_DarkResetsAfterLightReturns(t *testing.T) {
	e, pub := newEmitter(t, "json", 50*time.Millisecond)
	defer e.Close()

	eng, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	sched, err := scheduler.New(eng, e, scheduler.Config{
		CheckInterval: 10 * time.Millisecond,
		MinLuma:       1000,
	})
	require.NoError(t, err)
	require.NoError(t, sched.Start(t.Context()))
	defer sched.Stop()

	sched.Consume(nv21Frame(4, 4, 5)) // sum 80
	require.Eventually(t, func() bool { return e.Stats().Dark }, time.Second, 5*time.Millisecond)

	sched.Consume(nv21Frame(4, 4, 200)) // sum 3200, never changes
	require.Eventually(t, func() bool {
		return len(pub.on("care/motion/test/sensor/dark")) == 2
	}, time.Second, 5*time.Millisecond)

	state := pub.on("care/motion/test/sensor/dark")
	assert.False(t, stateValue(t, state[1]))
	assert.False(t, e.Stats().Dark)
	assert.Zero(t, sched.Stats().Motions)
}

func TestNotify_RepeatedTooDarkKeepsDark(t *testing.T) {
	e, pub := newEmitter(t, "json", 60*time.Millisecond)
	defer e.Close()

	dark := events.Event{Kind: events.KindTooDark, At: time.Now()}
	for i := 0; i < 4; i++ {
		e.Notify(dark)
		time.Sleep(20 * time.Millisecond)
	}

	// 80ms since the first TooDark, 20ms since the last.
	assert.Len(t, pub.on("care/motion/test/sensor/dark"), 1)
	assert.True(t, e.Stats().Dark)
}

func TestNotify_MsgpackEncoding(t *testing.T) {
	e, pub := newEmitter(t, "msgpack", time.Hour)
	defer e.Close()

	e.Notify(motionEvent(7))

	evs := pub.on("care/motion/test/event")
	require.Len(t, evs, 1)

	var p EventPayload
	require.NoError(t, msgpack.Unmarshal(evs[0].payload, &p))
	assert.Equal(t, uint64(7), p.Seq)
	assert.Equal(t, "motion_detected", p.Kind)
}

func TestNotify_PublishErrorsCounted(t *testing.T) {
	pub := &fakePublisher{fail: true}
	e, err := New(mqttConfig("json"), "test", time.Hour, pub)
	require.NoError(t, err)
	defer e.Close()

	e.Notify(motionEvent(1))

	st := e.Stats()
	assert.Equal(t, uint64(2), st.Errors) // event + motion state
	assert.False(t, st.Connected)
	assert.Empty(t, st.Published)
}

func TestClose_ResetsMotionState(t *testing.T) {
	e, pub := newEmitter(t, "json", time.Hour)

	e.Notify(motionEvent(1))
	e.Close()
	e.Close()
	e.Notify(motionEvent(2))

	state := pub.on("care/motion/test/sensor/motion")
	require.Len(t, state, 2)
	assert.False(t, stateValue(t, state[1]))
	assert.Len(t, pub.on("care/motion/test/event"), 1, "events after Close are ignored")
}
