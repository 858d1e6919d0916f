// Package surface executes render commands on the two stacked layers.
//
// The base layer is an opaque OpenCV matrix that carries the video frame and
// is encoded as JPEG. The overlay layer is a transparent RGBA canvas drawn
// with gg and encoded as PNG so it can be stacked on top of the base layer.
package surface

import "github.com/andresmejia3/facenote/internal/render"

// Surface is a drawing target for one layer.
type Surface interface {
	// Draw executes cmds in order. Unknown command kinds are ignored.
	Draw(cmds []render.Command) error
	// Encode returns the current contents in the surface's wire format.
	Encode() ([]byte, error)
	// MIMEType of the bytes returned by Encode.
	MIMEType() string
	Close() error
}
