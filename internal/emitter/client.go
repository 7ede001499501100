package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/config"
)

const (
	publishTimeout   = 2 * time.Second
	subscribeTimeout = 5 * time.Second

	statusOnline  = "online"
	statusOffline = "offline"
)

// Client is a thin paho wrapper shared by the emitter and the control
// plane. It announces availability on <base>/status with a retained
// online message and an offline last will.
type Client struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	connected atomic.Bool
}

// Connect dials the broker and waits up to cfg.ConnectTimeoutS for the
// first connection. Later drops are handled by paho's auto-reconnect.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}
	statusTopic := cfg.Topic("status")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(statusTopic, statusOffline, cfg.QoS, true)

	opts.OnConnect = func(mc mqtt.Client) {
		c.connected.Store(true)
		mc.Publish(statusTopic, cfg.QoS, true, statusOnline)
		slog.Info("emitter: mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.connected.Store(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}

	c.client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", cfg.Broker)

	timeout := time.Duration(cfg.ConnectTimeoutS) * time.Second
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(timeout):
		c.client.Disconnect(0)
		return nil, fmt.Errorf("emitter: mqtt connection timeout after %v", timeout)
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	c.connected.Store(true)
	return c, nil
}

// Publish sends payload and waits for the broker acknowledgement.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Subscribe registers handler for topic.
func (c *Client) Subscribe(topic string, qos byte, handler func(payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscription failed: %w", err)
	}
	return nil
}

// Unsubscribe removes the subscription for topic.
func (c *Client) Unsubscribe(topic string) error {
	if !c.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("unsubscribe timeout")
	}
	return token.Error()
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnectionOpen()
}

// Disconnect publishes offline and closes the connection.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		token := c.client.Publish(c.cfg.Topic("status"), c.cfg.QoS, true, statusOffline)
		token.WaitTimeout(publishTimeout)
		c.client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	c.connected.Store(false)
}
