package landmark

import (
	"math"

	"github.com/andresmejia3/facenote/internal/types"
)

// ToPixel converts a normalized point into surface pixel space.
func ToPixel(p types.Point, width, height int) (float64, float64) {
	return p.X * float64(width), p.Y * float64(height)
}

// Resolve returns the index of the landmark closest to the click at
// (clickX, clickY) in pixel space. The first minimum in snapshot order wins.
// ok is false when the snapshot holds no face.
func Resolve(clickX, clickY float64, snap types.Snapshot, width, height int) (index int, ok bool) {
	if snap.Len() == 0 {
		return -1, false
	}

	index = 0
	minDist := math.Inf(1)
	for i, p := range snap.Points {
		x, y := ToPixel(p, width, height)
		dist := math.Hypot(x-clickX, y-clickY)
		if dist < minDist {
			minDist = dist
			index = i
		}
	}
	return index, true
}
