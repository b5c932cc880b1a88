package core

import (
	"errors"

	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/pion/webrtc/v4"
)

var ErrChannelClosed = errors.New("control channel not open")

// CaptureSource hands out the local tracks the host shares with every peer.
type CaptureSource interface {
	Tracks() []webrtc.TrackLocal
}

// InputSink performs remote input against the local display.
// Coordinates arrive normalized; scaling to pixels is the sink's job.
type InputSink interface {
	Inject(protocol.InputEvent) error
}

// PeerConn is one direct connection to a remote participant.
// Callbacks fire on library goroutines.
type PeerConn interface {
	// CreateOffer creates an offer and applies it locally.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer applies a remote offer and returns the locally applied answer.
	ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddLocalTrack(webrtc.TrackLocal) error
	// CreateControlChannel opens the remote-control data channel.
	CreateControlChannel() (ControlChannel, error)

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote))
	// OnControlChannel fires when the remote side opened the control channel.
	OnControlChannel(func(ControlChannel))

	Close() error
}

// ControlChannel carries JSON control messages.
type ControlChannel interface {
	Send([]byte) error
	IsOpen() bool
	OnOpen(func())
	OnClose(func())
	OnMessage(func([]byte))
	Close() error
}

type PeerFactory interface {
	NewPeer(target domain.ClientID) (PeerConn, error)
}
