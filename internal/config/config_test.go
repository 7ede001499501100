package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motiond.yaml")
	yaml := `
instance_id: hall-01
motion:
  check_interval_ms: 250
  min_luma: 0
  leniency: 35
camera:
  source: v4l2
  device: /dev/video2
  width: 640
  height: 480
mqtt:
  enabled: true
  broker: tcp://broker:1883
  encoding: MsgPack
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hall-01", cfg.InstanceID)
	assert.Equal(t, 250*time.Millisecond, cfg.Motion.CheckInterval())
	assert.Equal(t, int64(0), cfg.Motion.MinLuma, "explicit zero survives defaults")
	assert.Equal(t, 35, cfg.Motion.Leniency)
	assert.Equal(t, 10, cfg.Motion.XBoxes)
	assert.Equal(t, 10*time.Second, cfg.Motion.ClearAfter())
	assert.Equal(t, "/dev/video2", cfg.Camera.Device)
	assert.Equal(t, "msgpack", cfg.MQTT.Encoding)
	assert.Equal(t, "care/motion/hall-01", cfg.MQTT.BaseTopic)
	assert.Equal(t, "care/motion/hall-01/sensor/motion", cfg.MQTT.Topic("sensor/motion"))
	assert.Equal(t, "motiond-hall-01", cfg.MQTT.ClientID)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "motiond.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "living-room", cfg.InstanceID)
	assert.Equal(t, "v4l2", cfg.Camera.Source)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "care/motion/living-room", cfg.MQTT.BaseTopic)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Motion, cfg.Motion)
	assert.Equal(t, "synthetic", cfg.Camera.Source)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":          "motion: [",
		"bad instance":      "instance_id: Hall_01",
		"zero interval":     "motion: {check_interval_ms: 0}",
		"negative leniency": "motion: {leniency: -1}",
		"negative min luma": "motion: {min_luma: -5}",
		"zero boxes":        "motion: {x_boxes: 0}",
		"unknown source":    "camera: {source: usb}",
		"rtsp without url":  "camera: {source: rtsp}",
		"bad format":        "camera: {format: RGB}",
		"bad background":    "camera: {background: 300}",
		"bad encoding":      "mqtt: {enabled: true, encoding: xml}",
		"bad qos":           "mqtt: {enabled: true, qos: 3}",
		"no broker":         "mqtt: {enabled: true, broker: ''}",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			if name != "bad yaml" {
				assert.True(t, strings.HasPrefix(err.Error(), "invalid configuration"), err.Error())
			}
		})
	}
}
