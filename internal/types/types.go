package types

import (
	"image"
	"time"
)

// Point is a single detector landmark, normalized to [0,1] against the frame size.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Snapshot is the complete landmark set for the most recent frame.
// Face is false for the explicit "no face" state, in which case Points is empty.
type Snapshot struct {
	Seq    uint64  `json:"seq"`
	Face   bool    `json:"face"`
	Points []Point `json:"points"`
}

// NoFace returns the "no face" snapshot for the given frame sequence.
func NoFace(seq uint64) Snapshot {
	return Snapshot{Seq: seq}
}

// Len is the number of landmarks, zero when no face was detected.
func (s Snapshot) Len() int {
	if !s.Face {
		return 0
	}
	return len(s.Points)
}

// Annotation binds a user note to a landmark index, not to a pixel position.
type Annotation struct {
	LandmarkIndex int    `json:"landmark_index"`
	Note          string `json:"note"`
}

// Device describes a video input as reported by platform enumeration.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Frame is a single sampled camera image.
type Frame struct {
	Seq   uint64
	Image image.Image
	At    time.Time
}

// Detection is what the external detector returns for one frame.
type Detection struct {
	Landmarks []Point
	NoFace    bool
}
