package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete motiond configuration
type Config struct {
	InstanceID       string       `yaml:"instance_id"`
	ShutdownTimeoutS int          `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Motion           MotionConfig `yaml:"motion"`
	Camera           CameraConfig `yaml:"camera"`
	MQTT             MQTTConfig   `yaml:"mqtt"`
	Health           HealthConfig `yaml:"health"`
}

// MotionConfig contains detector settings
type MotionConfig struct {
	CheckIntervalMS int   `yaml:"check_interval_ms"` // minimum time between samples (default: 500)
	MinLuma         int64 `yaml:"min_luma"`          // total luma below which a frame is too dark (default: 1000)
	Leniency        int   `yaml:"leniency"`          // per-cell tolerance (default: 20)
	XBoxes          int   `yaml:"x_boxes"`
	YBoxes          int   `yaml:"y_boxes"`
	Verbosity       int   `yaml:"verbosity"`     // 0 quiet, 1 keep diagnostic grid, 2 log it
	ClearAfterS     int   `yaml:"clear_after_s"` // quiet period before motion state resets (default: 10)
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Source  string  `yaml:"source"`   // v4l2, rtsp, synthetic
	Device  string  `yaml:"device"`   // v4l2 device path
	RTSPURL string  `yaml:"rtsp_url"` // rtsp source URL
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	FPS     float64 `yaml:"fps"`
	Format  string  `yaml:"format"` // NV21, NV12, I420

	// Synthetic source scene
	Background int `yaml:"background"`
	BlockSize  int `yaml:"block_size"`
	MoveEvery  int `yaml:"move_every"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	BaseTopic       string `yaml:"base_topic"` // default: care/motion/<instance_id>
	QoS             byte   `yaml:"qos"`
	Encoding        string `yaml:"encoding"` // json or msgpack
	ConnectTimeoutS int    `yaml:"connect_timeout_s"`
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		InstanceID:       "motion-sensor",
		ShutdownTimeoutS: 5,
		Motion: MotionConfig{
			CheckIntervalMS: 500,
			MinLuma:         1000,
			Leniency:        20,
			XBoxes:          10,
			YBoxes:          10,
			ClearAfterS:     10,
		},
		Camera: CameraConfig{
			Source:     "synthetic",
			Device:     "/dev/video0",
			Width:      320,
			Height:     240,
			FPS:        5,
			Format:     "NV21",
			Background: 60,
			BlockSize:  40,
			MoveEvery:  15,
		},
		MQTT: MQTTConfig{
			Broker:          "tcp://localhost:1883",
			QoS:             1,
			Encoding:        "json",
			ConnectTimeoutS: 10,
		},
		Health: HealthConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default()
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// CheckInterval returns the sampling interval.
func (m MotionConfig) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalMS) * time.Millisecond
}

// ClearAfter returns the motion reset delay.
func (m MotionConfig) ClearAfter() time.Duration {
	return time.Duration(m.ClearAfterS) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Topic joins the base topic and suffix.
func (m MQTTConfig) Topic(suffix string) string {
	return m.BaseTopic + "/" + suffix
}
