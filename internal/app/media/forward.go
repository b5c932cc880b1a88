package media

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type readFunc func() (*rtp.Packet, error)

// RTPForwarder writes the packets of the current remote track to a UDP
// address. Starting a new track replaces the previous one.
type RTPForwarder struct {
	conn    net.Conn
	logger  zerolog.Logger
	packets atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewRTPForwarder(addr string) (*RTPForwarder, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &RTPForwarder{
		conn:   conn,
		logger: log.With().Str("module", "media.forward").Str("dst", addr).Logger(),
	}, nil
}

// Forward starts relaying track until ctx is done, the track ends or
// another track replaces it.
func (f *RTPForwarder) Forward(ctx context.Context, track *webrtc.TrackRemote) {
	f.logger.Info().Str("track_id", track.ID()).Str("codec", track.Codec().MimeType).Msg("forwarding remote track")
	f.start(ctx, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

func (f *RTPForwarder) start(ctx context.Context, read readFunc) {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	if f.cancel != nil {
		f.logger.Info().Msg("replacing existing forward loop")
		f.cancel()
	}
	f.cancel = cancel
	f.mu.Unlock()

	go f.loop(ctx, read)
}

// loop reads RTP packets from the source and writes them to the socket.
func (f *RTPForwarder) loop(ctx context.Context, read readFunc) {
	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("forward ctx done")
			return
		default:
		}
		pkt, err := read()
		if err != nil {
			f.logger.Info().Err(err).Msg("forward read ended")
			return
		}
		b, err := pkt.Marshal()
		if err != nil {
			f.logger.Warn().Err(err).Msg("marshal RTP")
			continue
		}
		if _, err := f.conn.Write(b); err != nil {
			f.logger.Debug().Err(err).Msg("udp write")
			continue
		}
		f.packets.Add(1)
	}
}

func (f *RTPForwarder) Packets() uint64 { return f.packets.Load() }

// Stop ends the current forward loop after its pending read returns.
func (f *RTPForwarder) Stop() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
}

func (f *RTPForwarder) Close() error {
	f.Stop()
	return f.conn.Close()
}
