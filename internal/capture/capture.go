// Package capture owns the camera stream lifecycle: device enumeration,
// acquisition, switching and release, plus per-frame sampling into the
// external landmark detector.
package capture

import (
	"context"
	"errors"
	"image"
	"image/draw"

	"github.com/andresmejia3/facenote/internal/types"
)

var (
	// ErrAcquire wraps every device acquisition failure (permission denied, busy, missing).
	ErrAcquire = errors.New("device acquisition failed")
	// ErrClosed is returned by a controller or stream after Close.
	ErrClosed = errors.New("capture closed")
	// ErrUnknownDevice is returned when no source owns a device id.
	ErrUnknownDevice = errors.New("unknown capture device")
)

// Source enumerates video inputs and acquires streams from them.
type Source interface {
	Devices(ctx context.Context) ([]types.Device, error)
	Acquire(ctx context.Context, deviceID string, width, height int) (Stream, error)
}

// Stream is an acquired device handle.
type Stream interface {
	// Read blocks for the next frame. The image is only valid until release is called.
	Read() (img image.Image, release func(), err error)
	// Close releases the underlying device.
	Close() error
}

// Detector is the external face-landmark model.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (types.Detection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) (types.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) (types.Detection, error) {
	return f(ctx, img)
}

// State of a capture session.
type State int

const (
	Idle State = iota
	Acquiring
	Streaming
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is reported to the state observer on every state change.
type Transition struct {
	From   State
	To     State
	Device string
	Err    error
}

// cloneImage copies img into a fresh RGBA buffer so it outlives the driver's release.
func cloneImage(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
