// Package media moves RTP between local UDP sockets and peer tracks: the
// host ingests an encoder's stream as its capture source, a client can
// forward the shared screen to a local player.
package media

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxPacketSize = 1500

// StaticSource is a capture source over a fixed set of tracks.
type StaticSource struct {
	tracks []webrtc.TrackLocal
}

func NewStaticSource(tracks ...webrtc.TrackLocal) *StaticSource {
	return &StaticSource{tracks: tracks}
}

func (s *StaticSource) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// RTPIngest reads RTP from a UDP socket (for example ffmpeg or gstreamer
// encoding the screen to VP8) and writes it to one shared local track.
// Every peer connection the track is added to receives the same stream.
type RTPIngest struct {
	conn    net.PacketConn
	track   *webrtc.TrackLocalStaticRTP
	packets atomic.Uint64
	dropped atomic.Uint64
	logger  zerolog.Logger
}

func NewRTPIngest(addr string) (*RTPIngest, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen", "remote",
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &RTPIngest{
		conn:   conn,
		track:  track,
		logger: log.With().Str("module", "media.ingest").Str("addr", conn.LocalAddr().String()).Logger(),
	}, nil
}

func (in *RTPIngest) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{in.track}
}

func (in *RTPIngest) Addr() net.Addr { return in.conn.LocalAddr() }

// Packets reports how many packets reached the track.
func (in *RTPIngest) Packets() uint64 { return in.packets.Load() }

// Dropped reports packets that failed to parse or write.
func (in *RTPIngest) Dropped() uint64 { return in.dropped.Load() }

// Run reads until ctx is done or the socket fails.
func (in *RTPIngest) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = in.conn.Close()
	}()

	in.logger.Info().Msg("ingest loop started")
	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := in.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				in.logger.Info().Msg("ingest loop stopped")
				return nil
			}
			in.logger.Error().Err(err).Msg("ingest read error, stopping")
			return err
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			in.dropped.Add(1)
			in.logger.Debug().Err(err).Msg("not an RTP packet, dropped")
			continue
		}
		if err := in.track.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			in.dropped.Add(1)
			in.logger.Warn().Err(err).Msg("track write error")
			continue
		}
		in.packets.Add(1)
	}
}

func (in *RTPIngest) Close() error {
	return in.conn.Close()
}
