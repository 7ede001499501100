package gstsource

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// errorCategory classifies pipeline errors for telemetry.
type errorCategory int

const (
	errNetwork errorCategory = iota
	errCodec
	errAuth
	errDevice
	errUnknown
)

func (c errorCategory) String() string {
	switch c {
	case errNetwork:
		return "network"
	case errCodec:
		return "codec"
	case errAuth:
		return "auth"
	case errDevice:
		return "device"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden",
		"authentication", "credentials", "password",
	}
	deviceKeywords = []string{
		"/dev/video", "v4l2", "device busy", "no such device",
		"cannot identify device", "permission denied",
	}
	codecKeywords = []string{
		"codec", "decode", "negotiation", "not negotiated",
		"caps", "h264", "h265", "no decoder", "missing plugin",
	}
	networkKeywords = []string{
		"connection", "timeout", "unreachable", "network", "dns",
		"resolve", "socket", "tcp", "udp", "rtsp", "could not connect",
	}
)

// classifyGError classifies a GStreamer error.
func classifyGError(gerr *gst.GError) errorCategory {
	if gerr == nil {
		return errUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

// classify matches keywords in order of specificity: auth, device, codec,
// then network. go-gst does not expose the GError domain.
func classify(msg, debug string) errorCategory {
	combined := strings.ToLower(msg + " " + debug)
	switch {
	case containsAny(combined, authKeywords):
		return errAuth
	case containsAny(combined, deviceKeywords):
		return errDevice
	case containsAny(combined, codecKeywords):
		return errCodec
	case containsAny(combined, networkKeywords):
		return errNetwork
	default:
		return errUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
