package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills derived defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateMotion(&cfg.Motion); err != nil {
		return fmt.Errorf("motion: %w", err)
	}
	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateMQTT(&cfg.MQTT, cfg.InstanceID); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if cfg.Health.Enabled && cfg.Health.Addr == "" {
		cfg.Health.Addr = ":8080"
	}

	return nil
}

func validateMotion(m *MotionConfig) error {
	if m.CheckIntervalMS <= 0 {
		return fmt.Errorf("check_interval_ms must be > 0, got %d", m.CheckIntervalMS)
	}
	if m.MinLuma < 0 {
		return fmt.Errorf("min_luma must be >= 0, got %d", m.MinLuma)
	}
	if m.Leniency < 0 {
		return fmt.Errorf("leniency must be >= 0, got %d", m.Leniency)
	}
	if m.XBoxes <= 0 || m.YBoxes <= 0 {
		return fmt.Errorf("x_boxes and y_boxes must be > 0, got %dx%d", m.XBoxes, m.YBoxes)
	}
	if m.ClearAfterS <= 0 {
		m.ClearAfterS = 10
	}
	return nil
}

func validateCamera(c *CameraConfig) error {
	switch c.Source {
	case "synthetic":
	case "v4l2":
		if c.Device == "" {
			return fmt.Errorf("device is required for v4l2")
		}
	case "rtsp":
		if c.RTSPURL == "" {
			return fmt.Errorf("rtsp_url is required for rtsp")
		}
	default:
		return fmt.Errorf("unknown source %q (must be 'v4l2', 'rtsp' or 'synthetic')", c.Source)
	}

	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be > 0, got %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be > 0")
	}
	if _, err := luma.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.Background < 0 || c.Background > 255 {
		return fmt.Errorf("background must be 0-255, got %d", c.Background)
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if m.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", m.QoS)
	}

	m.Encoding = strings.ToLower(m.Encoding)
	switch m.Encoding {
	case "":
		m.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("encoding must be 'json' or 'msgpack', got %q", m.Encoding)
	}

	if m.BaseTopic == "" {
		m.BaseTopic = fmt.Sprintf("care/motion/%s", instanceID)
	}
	m.BaseTopic = strings.TrimSuffix(m.BaseTopic, "/")
	if m.ClientID == "" {
		m.ClientID = "motiond-" + instanceID
	}
	if m.ConnectTimeoutS <= 0 {
		m.ConnectTimeoutS = 10
	}
	return nil
}
