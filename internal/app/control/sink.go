package control

import (
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink records input events instead of performing them. Used when no
// platform injector is available.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.With().Str("module", "app.control.sink").Logger()}
}

func (s *LogSink) Inject(ev protocol.InputEvent) error {
	e := s.logger.Info().Str("type", string(ev.MessageType()))
	switch v := ev.(type) {
	case protocol.MouseMove:
		e = e.Float64("x", v.X).Float64("y", v.Y)
	case protocol.MouseDown:
		e = e.Float64("x", v.X).Float64("y", v.Y).Int("button", v.Button)
	case protocol.MouseUp:
		e = e.Float64("x", v.X).Float64("y", v.Y).Int("button", v.Button)
	case protocol.KeyDown:
		e = e.Str("key", v.Key)
	case protocol.KeyUp:
		e = e.Str("key", v.Key)
	case protocol.Scroll:
		e = e.Float64("delta_y", v.DeltaY)
	}
	e.Msg("input")
	return nil
}
