package surface

import (
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/facenote/internal/render"
	"gocv.io/x/gocv"
)

const jpegQuality = 85

// Base is the video + landmark layer backed by a BGR gocv.Mat.
type Base struct {
	width, height int
	mat           gocv.Mat
}

// NewBase allocates a width x height base layer. Call Close to release it.
func NewBase(width, height int) *Base {
	return &Base{
		width:  width,
		height: height,
		mat:    gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3),
	}
}

func (b *Base) Draw(cmds []render.Command) error {
	for _, c := range cmds {
		switch c.Kind {
		case render.KindClear:
			b.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
		case render.KindImage:
			if err := b.drawImage(c.Image); err != nil {
				return err
			}
		case render.KindCircle:
			center := image.Pt(int(math.Round(c.X)), int(math.Round(c.Y)))
			gocv.Circle(&b.mat, center, int(math.Max(1, math.Round(c.Radius))), c.Color, -1)
		case render.KindText:
			origin := image.Pt(int(math.Round(c.X)), int(math.Round(c.Y)))
			gocv.PutText(&b.mat, c.Text, origin, gocv.FontHersheySimplex, 0.4, c.Color, 1)
		}
	}
	return nil
}

func (b *Base) drawImage(img image.Image) error {
	if img == nil {
		return nil
	}
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer src.Close()

	if src.Cols() == b.width && src.Rows() == b.height {
		src.CopyTo(&b.mat)
		return nil
	}
	gocv.Resize(src, &b.mat, image.Pt(b.width, b.height), 0, 0, gocv.InterpolationLinear)
	return nil
}

// Encode returns the layer as JPEG.
func (b *Base) Encode() ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, b.mat, []int{int(gocv.IMWriteJpegQuality), jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode base layer: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func (b *Base) MIMEType() string { return "image/jpeg" }

// Image returns a Go copy of the layer, mostly for tests and debugging.
func (b *Base) Image() (image.Image, error) {
	return b.mat.ToImage()
}

func (b *Base) Close() error {
	return b.mat.Close()
}
