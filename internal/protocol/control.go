package protocol

// Control channel message kinds.
const (
	TypeMouseMove      Type = "mousemove"
	TypeMouseDown      Type = "mousedown"
	TypeMouseUp        Type = "mouseup"
	TypeKeyDown        Type = "keydown"
	TypeKeyUp          Type = "keyup"
	TypeScroll         Type = "scroll"
	TypeCursorPosition Type = "cursor-position"
)

// Coordinates are fractions of the shared video frame, 0..1 on both axes.
type MouseMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type MouseDown struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button"`
}

type MouseUp struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button"`
}

type KeyDown struct {
	Key string `json:"key"`
}

type KeyUp struct {
	Key string `json:"key"`
}

type Scroll struct {
	DeltaY float64 `json:"deltaY"`
}

// CursorPosition is overlay telemetry. Timestamp is unix milliseconds.
type CursorPosition struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

func (MouseMove) MessageType() Type      { return TypeMouseMove }
func (MouseDown) MessageType() Type      { return TypeMouseDown }
func (MouseUp) MessageType() Type        { return TypeMouseUp }
func (KeyDown) MessageType() Type        { return TypeKeyDown }
func (KeyUp) MessageType() Type          { return TypeKeyUp }
func (Scroll) MessageType() Type         { return TypeScroll }
func (CursorPosition) MessageType() Type { return TypeCursorPosition }

// InputEvent is one of the six shapes handed to an input sink.
type InputEvent interface {
	Message
	inputEvent()
}

func (MouseMove) inputEvent() {}
func (MouseDown) inputEvent() {}
func (MouseUp) inputEvent()   {}
func (KeyDown) inputEvent()   {}
func (KeyUp) inputEvent()     {}
func (Scroll) inputEvent()    {}

var controlSpecs = map[Type]messageSpec{
	TypeMouseMove:      {decode: decode[MouseMove], required: []string{"x", "y"}},
	TypeMouseDown:      {decode: decode[MouseDown], required: []string{"x", "y", "button"}},
	TypeMouseUp:        {decode: decode[MouseUp], required: []string{"x", "y", "button"}},
	TypeKeyDown:        {decode: decode[KeyDown], required: []string{"key"}},
	TypeKeyUp:          {decode: decode[KeyUp], required: []string{"key"}},
	TypeScroll:         {decode: decode[Scroll], required: []string{"deltaY"}},
	TypeCursorPosition: {decode: decode[CursorPosition], required: []string{"x", "y", "timestamp"}},
}

// ParseControl decodes one control channel message.
func ParseControl(data []byte) (Message, error) {
	return parse(data, controlSpecs)
}
