package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
instance_id: test-room
motion:
  check_interval_ms: 20
  min_luma: 100
camera:
  source: synthetic
  width: 64
  height: 48
  fps: 30
  block_size: 16
  move_every: 1
health:
  enabled: false
`))
	require.NoError(t, err)
	return cfg
}

func TestNew_UnknownSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Camera.Source = "usb"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestService_RunDetectsSyntheticMotion(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return svc.Detector().Stats().Scheduler.Motions > 0
	}, 3*time.Second, 10*time.Millisecond)

	snap := svc.Snapshot()
	assert.Equal(t, "test-room", snap.InstanceID)
	assert.True(t, snap.Capture.IsConnected)
	assert.True(t, snap.Detector.Scheduler.Running)
	assert.False(t, snap.MQTTEnabled)
	assert.NotNil(t, svc.LastRawImage())

	status := svc.status()
	assert.Equal(t, "test-room", status["instance_id"])
	assert.Equal(t, int64(20), status["check_interval_ms"])

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, svc.Shutdown(shutdownCtx))
	require.NoError(t, svc.Shutdown(shutdownCtx))

	assert.False(t, svc.Detector().Stats().Scheduler.Running)
}

func TestService_RunTwice(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return svc.Detector().Stats().Scheduler.Running
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, svc.Run(ctx))

	cancel()
	require.NoError(t, svc.Shutdown(context.Background()))
}
