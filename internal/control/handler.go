// Package control accepts live tuning commands over MQTT.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Command represents a control plane command
//
//	{"command":"set_leniency","params":{"value":30}}
//	{"command":"set_check_interval","params":{"ms":250}}
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Transport is the MQTT surface the handler needs. *emitter.Client
// implements it.
type Transport interface {
	Subscribe(topic string, qos byte, handler func(payload []byte)) error
	Unsubscribe(topic string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus        func() map[string]interface{}
	OnSetLeniency      func(int) error
	OnSetMinLuma       func(int64) error
	OnSetCheckInterval func(time.Duration) error
}

// Handler handles control plane commands
type Handler struct {
	commandTopic string
	ackTopic     string
	qos          byte
	transport    Transport
	callbacks    CommandCallbacks

	commands chan Command
	stopOnce sync.Once
	done     chan struct{}
}

// NewHandler creates a new control plane handler listening on
// <base>/command and replying on <base>/command/ack.
func NewHandler(baseTopic string, qos byte, transport Transport, callbacks CommandCallbacks) *Handler {
	return &Handler{
		commandTopic: baseTopic + "/command",
		ackTopic:     baseTopic + "/command/ack",
		qos:          qos,
		transport:    transport,
		callbacks:    callbacks,
		commands:     make(chan Command, 10),
		done:         make(chan struct{}),
	}
}

// Start subscribes to the command topic and processes commands until ctx
// ends or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("control: subscribing", "topic", h.commandTopic, "qos", h.qos)

	if err := h.transport.Subscribe(h.commandTopic, h.qos, h.HandleMessage); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and stops processing. Idempotent.
func (h *Handler) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		err = h.transport.Unsubscribe(h.commandTopic)
		close(h.done)
		slog.Info("control: handler stopped")
	})
	return err
}

// HandleMessage parses a raw payload and queues the command.
func (h *Handler) HandleMessage(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	fail := func(format string, args ...interface{}) Response {
		resp.Status = "error"
		resp.Error = fmt.Sprintf(format, args...)
		return resp
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return fail("get_status not implemented")
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "set_leniency":
		if h.callbacks.OnSetLeniency == nil {
			return fail("set_leniency not implemented")
		}
		v, ok := intParam(cmd.Params, "value")
		if !ok {
			return fail("missing or invalid 'value' parameter (expected integer)")
		}
		if err := h.callbacks.OnSetLeniency(int(v)); err != nil {
			return fail("%s", err)
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"leniency": v}

	case "set_min_luma":
		if h.callbacks.OnSetMinLuma == nil {
			return fail("set_min_luma not implemented")
		}
		v, ok := intParam(cmd.Params, "value")
		if !ok {
			return fail("missing or invalid 'value' parameter (expected integer)")
		}
		if err := h.callbacks.OnSetMinLuma(v); err != nil {
			return fail("%s", err)
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"min_luma": v}

	case "set_check_interval":
		if h.callbacks.OnSetCheckInterval == nil {
			return fail("set_check_interval not implemented")
		}
		ms, ok := intParam(cmd.Params, "ms")
		if !ok {
			return fail("missing or invalid 'ms' parameter (expected integer)")
		}
		if err := h.callbacks.OnSetCheckInterval(time.Duration(ms) * time.Millisecond); err != nil {
			return fail("%s", err)
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"check_interval_ms": ms}

	default:
		return fail("unknown command: %s", cmd.Command)
	}

	return resp
}

// intParam reads a whole number. JSON numbers decode as float64.
func intParam(params map[string]interface{}, key string) (int64, bool) {
	f, ok := params[key].(float64)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}
	if err := h.transport.Publish(h.ackTopic, h.qos, false, payload); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}
	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
