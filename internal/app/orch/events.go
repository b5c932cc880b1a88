package orch

import (
	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// State of one peer connection.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type EventKind int

const (
	EventSessionCreated EventKind = iota + 1
	EventSessionJoined
	EventJoinRequested
	EventClientLeft
	EventPeerConnected
	EventPeerDisconnected
	EventRemoteTrack
	EventControlOpen
	EventCursor

	// User-visible failures.
	EventHostDisconnected
	EventSessionRejected
	EventSessionNotFound
	EventConnectionLost
	EventNegotiationTimeout
	EventSignalingLost
)

var eventNames = map[EventKind]string{
	EventSessionCreated:     "session-created",
	EventSessionJoined:      "session-joined",
	EventJoinRequested:      "join-requested",
	EventClientLeft:         "client-left",
	EventPeerConnected:      "peer-connected",
	EventPeerDisconnected:   "peer-disconnected",
	EventRemoteTrack:        "remote-track",
	EventControlOpen:        "control-open",
	EventCursor:             "cursor",
	EventHostDisconnected:   "host-disconnected",
	EventSessionRejected:    "session-rejected",
	EventSessionNotFound:    "session-not-found",
	EventConnectionLost:     "connection-lost",
	EventNegotiationTimeout: "timeout",
	EventSignalingLost:      "signaling-lost",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Failure reports whether the event is a user-visible failure.
func (k EventKind) Failure() bool {
	return k >= EventHostDisconnected
}

// Event is a notification for the UI layer. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind      EventKind
	SessionID domain.SessionCode
	ClientID  domain.ClientID
	Track     *webrtc.TrackRemote
	Cursor    protocol.CursorPosition
	Err       error
}

// Snapshot is a point-in-time view of the orchestrator state.
type Snapshot struct {
	Role              domain.Role
	Ready             bool
	SessionID         domain.SessionCode
	Self              domain.ClientID
	Queued            int
	Peers             map[domain.ClientID]State
	ControlChannels   int
	PendingCandidates map[domain.ClientID]int
	HasRemoteTrack    bool
}
