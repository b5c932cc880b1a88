package control

import (
	"fmt"
	"math"

	"github.com/dkeye/Remote/internal/protocol"
)

// Encode clamps pointer coordinates into [0,1] and marshals m. Only
// control message kinds are accepted.
func Encode(m protocol.Message) ([]byte, error) {
	switch v := m.(type) {
	case protocol.MouseMove:
		v.X, v.Y = clamp01(v.X), clamp01(v.Y)
		m = v
	case protocol.MouseDown:
		v.X, v.Y = clamp01(v.X), clamp01(v.Y)
		m = v
	case protocol.MouseUp:
		v.X, v.Y = clamp01(v.X), clamp01(v.Y)
		m = v
	case protocol.CursorPosition:
		v.X, v.Y = clamp01(v.X), clamp01(v.Y)
		m = v
	case protocol.KeyDown, protocol.KeyUp, protocol.Scroll:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotControl, m.MessageType())
	}
	return protocol.Marshal(m)
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
