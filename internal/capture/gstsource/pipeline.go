// Package gstsource captures raw YUV frames from a V4L2 device or an RTSP
// camera through a GStreamer pipeline.
package gstsource

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/motion/internal/luma"
)

// Kind selects the pipeline front end.
type Kind int

const (
	KindV4L2 Kind = iota
	KindRTSP
)

func (k Kind) String() string {
	switch k {
	case KindV4L2:
		return "v4l2"
	case KindRTSP:
		return "rtsp"
	default:
		return "unknown"
	}
}

// pipelineConfig contains everything needed to build one pipeline.
type pipelineConfig struct {
	Kind   Kind
	Device string
	URL    string
	Width  int
	Height int
	FPS    float64
	Format luma.Format
}

// pipelineElements holds references needed for callbacks and teardown.
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	// Src is the source element; for RTSP its pads appear dynamically.
	Src   *gst.Element
	Depay *gst.Element
}

// createPipeline builds, but does not start, one of:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter → appsink
//	rtspsrc ~> rtph264depay → avdec_h264 → videoconvert → videoscale →
//	  videorate → capsfilter → appsink
//
// The capsfilter pins format, size and framerate so every buffer reaching
// appsink is a packed 4:2:0 frame the luma decoder can read directly.
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var src, depay, decoder *gst.Element
	switch cfg.Kind {
	case KindV4L2:
		src, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", cfg.Device)

	case KindRTSP:
		src, err = gst.NewElement("rtspsrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
		}
		src.SetProperty("location", cfg.URL)
		src.SetProperty("protocols", 4) // TCP only
		src.SetProperty("latency", 200)
		src.SetProperty("tcp-timeout", uint64(10000000))

		depay, err = gst.NewElement("rtph264depay")
		if err != nil {
			return nil, fmt.Errorf("failed to create rtph264depay: %w", err)
		}
		depay.SetProperty("request-keyframe", true)

		decoder, err = gst.NewElement("avdec_h264")
		if err != nil {
			return nil, fmt.Errorf("failed to create avdec_h264: %w", err)
		}
		decoder.SetProperty("max-threads", 0)
		decoder.SetProperty("output-corrupt", false)

	default:
		return nil, fmt.Errorf("unsupported source kind %d", cfg.Kind)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(cfg)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	tail := []*gst.Element{converter, scaler, videorate, capsfilter, appsink.Element}

	var chain []*gst.Element
	if cfg.Kind == KindRTSP {
		// rtspsrc pads are linked to depay in the pad-added callback.
		chain = append([]*gst.Element{depay, decoder}, tail...)
		if err := pipeline.AddMany(append([]*gst.Element{src}, chain...)...); err != nil {
			return nil, fmt.Errorf("failed to add elements: %w", err)
		}
	} else {
		chain = append([]*gst.Element{src}, tail...)
		if err := pipeline.AddMany(chain...); err != nil {
			return nil, fmt.Errorf("failed to add elements: %w", err)
		}
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to link %s pipeline: %w", cfg.Kind, err)
	}

	slog.Debug("gstsource: pipeline created",
		"kind", cfg.Kind.String(),
		"caps", buildCaps(cfg),
	)

	return &pipelineElements{
		Pipeline: pipeline,
		AppSink:  appsink,
		Src:      src,
		Depay:    depay,
	}, nil
}

// destroyPipeline sets the pipeline to NULL, releasing the device or
// connection. Safe on nil.
func destroyPipeline(el *pipelineElements) error {
	if el == nil || el.Pipeline == nil {
		return nil
	}
	if err := el.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// buildCaps renders the raw-video caps for cfg.
//
// Fractional rates below 1 fps become 1/N (0.5 → 1/2).
func buildCaps(cfg pipelineConfig) string {
	num, den := 1, 1
	if cfg.FPS < 1.0 {
		den = int(1.0/cfg.FPS + 0.5)
	} else {
		num = int(cfg.FPS + 0.5)
	}
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		cfg.Format.String(), cfg.Width, cfg.Height, num, den)
}

// onPadAdded links a dynamic rtspsrc pad to the depayloader.
func onPadAdded(srcPad *gst.Pad, depay *gst.Element) {
	sinkPad := depay.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("gstsource: depayloader has no sink pad")
		return
	}
	if sinkPad.IsLinked() {
		return
	}
	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("gstsource: failed to link pads",
			"src_pad", srcPad.GetName(),
			"ret", ret,
		)
		return
	}
	slog.Debug("gstsource: pads linked", "src_pad", srcPad.GetName())
}

func checkGStreamerAvailable() error {
	gst.Init(nil)
	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
