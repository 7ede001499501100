// Package luma extracts the brightness plane from YUV 4:2:0 camera frames.
//
// Camera sources deliver planar or semi-planar frames (NV21, NV12, I420).
// All three start with a full-resolution Y (luma) plane of width*height
// bytes followed by subsampled chroma planes totalling (width*height)/2
// bytes. Motion detection only needs the Y plane, so decoding is a bounds
// check plus one copy.
package luma

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrInvalidFrame is returned when a frame buffer is missing or too small
// for its declared dimensions.
var ErrInvalidFrame = errors.New("luma: invalid frame")

// Format identifies the pixel encoding of a raw camera frame.
type Format int

const (
	// FormatNV21 is semi-planar Y + interleaved VU (Android camera default).
	FormatNV21 Format = iota
	// FormatNV12 is semi-planar Y + interleaved UV (V4L2/VAAPI default).
	FormatNV12
	// FormatI420 is fully planar Y + U + V.
	FormatI420
)

// String returns the GStreamer caps name of the format.
func (f Format) String() string {
	switch f {
	case FormatNV21:
		return "NV21"
	case FormatNV12:
		return "NV12"
	case FormatI420:
		return "I420"
	default:
		return "NV21"
	}
}

// ParseFormat parses a format name (case-insensitive). Empty means NV21.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NV21":
		return FormatNV21, nil
	case "NV12":
		return FormatNV12, nil
	case "I420", "YUV420P":
		return FormatI420, nil
	default:
		return FormatNV21, fmt.Errorf("luma: unsupported pixel format %q", s)
	}
}

// FrameSize returns the minimum buffer length of a 4:2:0 frame.
func FrameSize(width, height int) int {
	n := width * height
	return n + n/2
}

// Image is a row-major brightness map, one sample per pixel.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// Decode copies the luma plane of a 4:2:0 frame into a new Image.
//
// The buffer must hold at least FrameSize(width, height) bytes; only the
// first width*height bytes are read. The input buffer is never modified or
// retained, so Decode is safe to call concurrently on shared frames.
func Decode(buf []byte, width, height int) (*Image, error) {
	if buf == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrInvalidFrame)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: bad dimensions %dx%d", ErrInvalidFrame, width, height)
	}
	if need := FrameSize(width, height); len(buf) < need {
		return nil, fmt.Errorf("%w: buffer has %d bytes, %dx%d needs %d",
			ErrInvalidFrame, len(buf), width, height, need)
	}

	n := width * height
	pix := make([]uint8, n)
	copy(pix, buf[:n])

	return &Image{Width: width, Height: height, Pix: pix}, nil
}

// Len returns the number of samples.
func (img *Image) Len() int {
	return len(img.Pix)
}

// Sum returns the total brightness of the image.
func (img *Image) Sum() int64 {
	var sum int64
	for _, v := range img.Pix {
		sum += int64(v)
	}
	return sum
}

// Clone returns a deep copy. Clone of a nil Image is nil.
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	pix := make([]uint8, len(img.Pix))
	copy(pix, img.Pix)
	return &Image{Width: img.Width, Height: img.Height, Pix: pix}
}

// Gray wraps a copy of the samples as an *image.Gray for encoding.
func (img *Image) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	copy(g.Pix, img.Pix)
	return g
}
