package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/andresmejia3/facenote/internal/types"
	"github.com/pion/mediadevices"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/multierr"
)

// MediaSource acquires local cameras through pion/mediadevices.
type MediaSource struct{}

// NewMediaSource registers the platform camera drivers.
func NewMediaSource() *MediaSource {
	mediadevicescamera.Initialize()
	return &MediaSource{}
}

// Devices lists video inputs. The label is trimmed to the human-readable part
// the driver reports before its separator.
func (s *MediaSource) Devices(ctx context.Context) ([]types.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []types.Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		label := strings.Split(d.Label, mediadevicescamera.LabelSeparator)[0]
		if label == "" {
			label = d.DeviceID
		}
		out = append(out, types.Device{ID: d.DeviceID, Label: label})
	}
	return out, nil
}

func (s *MediaSource) Acquire(ctx context.Context, deviceID string, width, height int) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.StringExact(deviceID)
			}
			c.Width = prop.IntRanged{Min: 0, Ideal: width, Max: 4096}
			c.Height = prop.IntRanged{Min: 0, Ideal: height, Max: 2160}
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatYUY2,
				frame.FormatUYVY,
				frame.FormatMJPEG,
				frame.FormatNV12,
				frame.FormatRGBA,
			}
		},
	})
	if err != nil {
		return nil, err
	}

	stream := &mediaStream{stream: ms}
	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, multierr.Append(errors.New("no video track"), stream.Close())
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, multierr.Append(fmt.Errorf("unexpected track type %T", tracks[0]), stream.Close())
	}
	stream.reader = vt.NewReader(false)
	return stream, nil
}

type mediaStream struct {
	stream mediadevices.MediaStream
	reader video.Reader
}

func (m *mediaStream) Read() (image.Image, func(), error) {
	return m.reader.Read()
}

func (m *mediaStream) Close() error {
	var err error
	for _, t := range m.stream.GetTracks() {
		err = multierr.Append(err, t.Close())
	}
	return err
}
