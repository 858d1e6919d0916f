// Package render turns session state into draw commands for the two
// stacked surfaces: the base layer (video + landmarks) and the overlay
// layer (annotations). Both passes are pure; executing the commands is
// the job of package surface.
package render

import (
	"image"
	"image/color"

	"github.com/andresmejia3/facenote/internal/landmark"
	"github.com/andresmejia3/facenote/internal/types"
)

const (
	LandmarkRadius = 1
	MarkerRadius   = 5
	NoteOffsetX    = 8
	NoteOffsetY    = 0
)

var (
	LandmarkColor = color.RGBA{R: 0x00, G: 0xFF, B: 0x00, A: 0xFF}
	MarkerColor   = color.RGBA{R: 0xFF, G: 0x00, B: 0x00, A: 0xFF}
	NoteColor     = color.RGBA{R: 0xFF, G: 0x00, B: 0x00, A: 0xFF}
)

// Kind identifies a draw command.
type Kind int

const (
	KindClear Kind = iota
	KindImage
	KindCircle
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindClear:
		return "clear"
	case KindImage:
		return "image"
	case KindCircle:
		return "circle"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Command is a single draw instruction in surface pixel space.
type Command struct {
	Kind   Kind
	X, Y   float64
	Radius float64
	Color  color.RGBA
	Text   string
	Image  image.Image
}

// Clear wipes the whole surface.
func Clear() Command {
	return Command{Kind: KindClear}
}

// Image draws img scaled to the full surface.
func Image(img image.Image) Command {
	return Command{Kind: KindImage, Image: img}
}

// Circle draws a filled circle centered at (x, y).
func Circle(x, y, radius float64, c color.RGBA) Command {
	return Command{Kind: KindCircle, X: x, Y: y, Radius: radius, Color: c}
}

// Text draws s with its baseline origin at (x, y).
func Text(x, y float64, s string, c color.RGBA) Command {
	return Command{Kind: KindText, X: x, Y: y, Text: s, Color: c}
}

// Base builds the base layer: clear, the frame, then one dot per landmark.
// frame may be nil, in which case only the landmarks are drawn.
func Base(frame image.Image, snap types.Snapshot, width, height int) []Command {
	cmds := make([]Command, 0, 2+snap.Len())
	cmds = append(cmds, Clear())
	if frame != nil {
		cmds = append(cmds, Image(frame))
	}
	if !snap.Face {
		return cmds
	}
	for _, p := range snap.Points {
		x, y := landmark.ToPixel(p, width, height)
		cmds = append(cmds, Circle(x, y, LandmarkRadius, LandmarkColor))
	}
	return cmds
}

// Overlay builds the annotation layer against the current snapshot.
// Annotations whose landmark index is out of range for snap are skipped.
func Overlay(annotations []types.Annotation, snap types.Snapshot, width, height int) []Command {
	cmds := make([]Command, 0, 1+2*len(annotations))
	cmds = append(cmds, Clear())
	n := snap.Len()
	for _, a := range annotations {
		if a.LandmarkIndex < 0 || a.LandmarkIndex >= n {
			continue
		}
		x, y := landmark.ToPixel(snap.Points[a.LandmarkIndex], width, height)
		cmds = append(cmds,
			Circle(x, y, MarkerRadius, MarkerColor),
			Text(x+NoteOffsetX, y+NoteOffsetY, a.Note, NoteColor),
		)
	}
	return cmds
}

// Markers counts the circle commands in cmds.
func Markers(cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if c.Kind == KindCircle {
			n++
		}
	}
	return n
}
