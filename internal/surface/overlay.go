package surface

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/facenote/internal/render"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const noteFontSize = 12

var noteFont *truetype.Font

func init() {
	var err error
	noteFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Overlay is the transparent annotation layer.
type Overlay struct {
	dc   *gg.Context
	face font.Face
}

// NewOverlay allocates a fully transparent width x height layer.
func NewOverlay(width, height int) *Overlay {
	dc := gg.NewContext(width, height)
	face := truetype.NewFace(noteFont, &truetype.Options{Size: noteFontSize})
	dc.SetFontFace(face)
	return &Overlay{dc: dc, face: face}
}

func (o *Overlay) Draw(cmds []render.Command) error {
	for _, c := range cmds {
		switch c.Kind {
		case render.KindClear:
			o.dc.SetColor(color.Transparent)
			o.dc.Clear()
		case render.KindImage:
			o.drawImage(c.Image)
		case render.KindCircle:
			o.dc.DrawCircle(c.X, c.Y, c.Radius)
			o.dc.SetColor(c.Color)
			o.dc.Fill()
		case render.KindText:
			o.dc.SetColor(c.Color)
			o.dc.DrawString(c.Text, c.X, c.Y)
		}
	}
	return nil
}

func (o *Overlay) drawImage(img image.Image) {
	if img == nil {
		return
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return
	}
	o.dc.Push()
	o.dc.Scale(float64(o.dc.Width())/float64(b.Dx()), float64(o.dc.Height())/float64(b.Dy()))
	o.dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	o.dc.Pop()
}

// Encode returns the layer as PNG, alpha channel included.
func (o *Overlay) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := o.dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode overlay layer: %w", err)
	}
	return buf.Bytes(), nil
}

func (o *Overlay) MIMEType() string { return "image/png" }

// Image returns the backing RGBA canvas.
func (o *Overlay) Image() image.Image {
	return o.dc.Image()
}

func (o *Overlay) Close() error {
	return o.face.Close()
}
