package motion_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion"
)

type sink struct {
	mu     sync.Mutex
	events []motion.Event
}

func (s *sink) Notify(ev motion.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sink) kinds() []motion.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]motion.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func nv21(w, h int, v byte) []byte {
	buf := make([]byte, w*h*3/2)
	for i := 0; i < w*h; i++ {
		buf[i] = v
	}
	return buf
}

func fastConfig() motion.Config {
	cfg := motion.DefaultConfig()
	cfg.CheckInterval = 15 * time.Millisecond
	cfg.MinLuma = 100
	cfg.Leniency = 5
	cfg.XBoxes, cfg.YBoxes = 2, 2
	return cfg
}

// Scenario: bright frame, then a frame with one lit quadrant, then
// darkness. The sink sees MotionDetected then TooDark.
func TestDetector_EndToEnd(t *testing.T) {
	s := &sink{}
	det, err := motion.New(fastConfig(), s)
	require.NoError(t, err)
	require.NoError(t, det.Start(t.Context()))

	wait := func(cond func() bool) {
		t.Helper()
		require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
	}

	det.Consume(nv21(8, 8, 50), 8, 8)
	wait(func() bool { return det.Stats().Engine.Detections >= 1 })

	lit := nv21(8, 8, 50)
	for y := 0; y < 4; y++ {
		for x := 4; x < 8; x++ {
			lit[y*8+x] = 200
		}
	}
	det.Consume(lit, 8, 8)
	wait(func() bool { return det.Stats().Scheduler.Motions >= 1 })

	det.Consume(nv21(8, 8, 0), 8, 8)
	wait(func() bool { return det.Stats().Scheduler.TooDark >= 1 })

	require.NoError(t, det.Stop())

	kinds := s.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, motion.MotionDetected, kinds[0])
	assert.Equal(t, motion.TooDark, kinds[len(kinds)-1])
	assert.NotEmpty(t, det.SessionID())
	assert.NotNil(t, det.LastRawImage())
}

func TestDetector_IndependentSessions(t *testing.T) {
	a, err := motion.New(motion.Config{SessionID: "a"}, nil)
	require.NoError(t, err)
	b, err := motion.New(motion.Config{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.SetLeniency(99))
	assert.Equal(t, 99, a.Stats().Leniency)
	assert.Equal(t, 0, b.Stats().Leniency)
	assert.Equal(t, "a", a.SessionID())
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestDetector_Lifecycle(t *testing.T) {
	det, err := motion.New(fastConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, det.Start(t.Context()))
	assert.True(t, errors.Is(det.Start(t.Context()), motion.ErrAlreadyStarted))
	require.NoError(t, det.Stop())
	require.NoError(t, det.Stop())
	assert.True(t, errors.Is(det.Start(t.Context()), motion.ErrStopped))
}

func TestDetector_InvalidConfig(t *testing.T) {
	cfg := motion.DefaultConfig()
	cfg.Leniency = -1
	_, err := motion.New(cfg, nil)
	assert.True(t, errors.Is(err, motion.ErrInvalidConfig))

	cfg = motion.DefaultConfig()
	cfg.MinLuma = -5
	_, err = motion.New(cfg, nil)
	assert.True(t, errors.Is(err, motion.ErrInvalidConfig))
}

func TestDetector_SubscribeExtraSink(t *testing.T) {
	primary, extra := &sink{}, &sink{}
	det, err := motion.New(fastConfig(), primary)
	require.NoError(t, err)
	require.NoError(t, det.Subscribe("extra", extra))
	require.Error(t, det.Subscribe("extra", extra))

	require.NoError(t, det.Start(t.Context()))
	det.Consume(nv21(4, 4, 0), 4, 4)
	require.Eventually(t, func() bool { return det.Stats().Scheduler.TooDark >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, det.Stop())

	assert.NotEmpty(t, primary.kinds())
	assert.Equal(t, primary.kinds()[0], extra.kinds()[0])
}

func TestDetector_UnsubscribeSink(t *testing.T) {
	primary, extra := &sink{}, &sink{}
	det, err := motion.New(fastConfig(), primary)
	require.NoError(t, err)
	require.NoError(t, det.Subscribe("extra", extra))
	require.NoError(t, det.Unsubscribe("extra"))
	require.Error(t, det.Unsubscribe("extra"))
	_, listed := det.Stats().Events.Subscribers["extra"]
	assert.False(t, listed)

	require.NoError(t, det.Start(t.Context()))
	det.Consume(nv21(4, 4, 0), 4, 4)
	require.Eventually(t, func() bool { return len(primary.kinds()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, det.Stop())

	assert.Empty(t, extra.kinds())
}
