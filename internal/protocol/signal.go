package protocol

import (
	"fmt"

	"github.com/dkeye/Remote/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	TypeCreateSession      Type = "create-session"
	TypeSessionCreated     Type = "session-created"
	TypeJoinSession        Type = "join-session"
	TypeSessionJoined      Type = "session-joined"
	TypeClientRequestJoin  Type = "client-request-join"
	TypeApproveClient      Type = "approve-client"
	TypePeerApproved       Type = "peer-approved"
	TypeRejectClient       Type = "reject-client"
	TypeSessionRejected    Type = "session-rejected"
	TypeSessionNotFound    Type = "session-not-found"
	TypeOffer              Type = "offer"
	TypeAnswer             Type = "answer"
	TypeCandidate          Type = "candidate"
	TypeClientConnected    Type = "client-connected"
	TypeHostDisconnected   Type = "host-disconnected"
	TypePeerDisconnected   Type = "peer-disconnected"
	TypeClientDisconnected Type = "client-disconnected"
	TypePing               Type = "ping"
	TypePong               Type = "pong"
)

// StatusConnected is the only status a client reports in client-connected.
const StatusConnected = "connected"

type CreateSession struct{}

type SessionCreated struct {
	SessionID domain.SessionCode `json:"sessionId"`
}

type JoinSession struct {
	SessionID domain.SessionCode `json:"sessionId"`
}

type SessionJoined struct {
	SessionID domain.SessionCode `json:"sessionId"`
	ClientID  domain.ClientID    `json:"clientId"`
}

type ClientRequestJoin struct {
	ClientID  domain.ClientID    `json:"clientId"`
	SessionID domain.SessionCode `json:"sessionId"`
}

type ApproveClient struct {
	ClientID  domain.ClientID    `json:"clientId"`
	SessionID domain.SessionCode `json:"sessionId"`
}

type PeerApproved struct {
	ClientID domain.ClientID `json:"clientId"`
}

type RejectClient struct {
	ClientID  domain.ClientID    `json:"clientId"`
	SessionID domain.SessionCode `json:"sessionId"`
}

type SessionRejected struct {
	SessionID domain.SessionCode `json:"sessionId"`
}

type SessionNotFound struct{}

type Offer struct {
	SessionID domain.SessionCode        `json:"sessionId"`
	TargetID  domain.ClientID           `json:"targetId"`
	SenderID  domain.ClientID           `json:"senderId,omitempty"`
	Signal    webrtc.SessionDescription `json:"signal"`
}

type Answer struct {
	SessionID domain.SessionCode        `json:"sessionId"`
	TargetID  domain.ClientID           `json:"targetId"`
	SenderID  domain.ClientID           `json:"senderId,omitempty"`
	Signal    webrtc.SessionDescription `json:"signal"`
}

type Candidate struct {
	SessionID domain.SessionCode      `json:"sessionId"`
	TargetID  domain.ClientID         `json:"targetId"`
	SenderID  domain.ClientID         `json:"senderId,omitempty"`
	Signal    webrtc.ICECandidateInit `json:"signal"`
}

type ClientConnected struct {
	SessionID domain.SessionCode `json:"sessionId"`
	TargetID  domain.ClientID    `json:"targetId"`
	SenderID  domain.ClientID    `json:"senderId,omitempty"`
	Status    string             `json:"status"`
}

type HostDisconnected struct{}

type PeerDisconnected struct {
	ClientID domain.ClientID `json:"clientId"`
}

type ClientDisconnected struct {
	ClientID domain.ClientID `json:"clientId"`
}

type Ping struct{}

type Pong struct{}

func (CreateSession) MessageType() Type      { return TypeCreateSession }
func (SessionCreated) MessageType() Type     { return TypeSessionCreated }
func (JoinSession) MessageType() Type        { return TypeJoinSession }
func (SessionJoined) MessageType() Type      { return TypeSessionJoined }
func (ClientRequestJoin) MessageType() Type  { return TypeClientRequestJoin }
func (ApproveClient) MessageType() Type      { return TypeApproveClient }
func (PeerApproved) MessageType() Type       { return TypePeerApproved }
func (RejectClient) MessageType() Type       { return TypeRejectClient }
func (SessionRejected) MessageType() Type    { return TypeSessionRejected }
func (SessionNotFound) MessageType() Type    { return TypeSessionNotFound }
func (Offer) MessageType() Type              { return TypeOffer }
func (Answer) MessageType() Type             { return TypeAnswer }
func (Candidate) MessageType() Type          { return TypeCandidate }
func (ClientConnected) MessageType() Type    { return TypeClientConnected }
func (HostDisconnected) MessageType() Type   { return TypeHostDisconnected }
func (PeerDisconnected) MessageType() Type   { return TypePeerDisconnected }
func (ClientDisconnected) MessageType() Type { return TypeClientDisconnected }
func (Ping) MessageType() Type               { return TypePing }
func (Pong) MessageType() Type               { return TypePong }

// Relayed is a message the registry forwards between host and one client.
type Relayed interface {
	Message
	Session() domain.SessionCode
	Target() domain.ClientID
	Sender() domain.ClientID
	// WithSender returns a copy stamped with the authoritative sender id.
	WithSender(domain.ClientID) Relayed
}

func (m Offer) Session() domain.SessionCode           { return m.SessionID }
func (m Offer) Target() domain.ClientID               { return m.TargetID }
func (m Offer) Sender() domain.ClientID               { return m.SenderID }
func (m Answer) Session() domain.SessionCode          { return m.SessionID }
func (m Answer) Target() domain.ClientID              { return m.TargetID }
func (m Answer) Sender() domain.ClientID              { return m.SenderID }
func (m Candidate) Session() domain.SessionCode       { return m.SessionID }
func (m Candidate) Target() domain.ClientID           { return m.TargetID }
func (m Candidate) Sender() domain.ClientID           { return m.SenderID }
func (m ClientConnected) Session() domain.SessionCode { return m.SessionID }
func (m ClientConnected) Target() domain.ClientID     { return m.TargetID }
func (m ClientConnected) Sender() domain.ClientID     { return m.SenderID }

func (m Offer) WithSender(id domain.ClientID) Relayed {
	m.SenderID = id
	return m
}

func (m Answer) WithSender(id domain.ClientID) Relayed {
	m.SenderID = id
	return m
}

func (m Candidate) WithSender(id domain.ClientID) Relayed {
	m.SenderID = id
	return m
}

func (m ClientConnected) WithSender(id domain.ClientID) Relayed {
	m.SenderID = id
	return m
}

func (m Offer) validate() error {
	if m.Signal.Type != webrtc.SDPTypeOffer || m.Signal.SDP == "" {
		return fmt.Errorf("%w: offer.signal", ErrInvalidField)
	}
	return nil
}

func (m Answer) validate() error {
	if m.Signal.Type != webrtc.SDPTypeAnswer || m.Signal.SDP == "" {
		return fmt.Errorf("%w: answer.signal", ErrInvalidField)
	}
	return nil
}

func (m ClientConnected) validate() error {
	if m.Status != StatusConnected {
		return fmt.Errorf("%w: client-connected.status %q", ErrInvalidField, m.Status)
	}
	return nil
}

var signalSpecs = map[Type]messageSpec{
	TypeCreateSession:      {decode: decode[CreateSession]},
	TypeSessionCreated:     {decode: decode[SessionCreated], required: []string{"sessionId"}},
	TypeJoinSession:        {decode: decode[JoinSession], required: []string{"sessionId"}},
	TypeSessionJoined:      {decode: decode[SessionJoined], required: []string{"sessionId", "clientId"}},
	TypeClientRequestJoin:  {decode: decode[ClientRequestJoin], required: []string{"clientId", "sessionId"}},
	TypeApproveClient:      {decode: decode[ApproveClient], required: []string{"clientId", "sessionId"}},
	TypePeerApproved:       {decode: decode[PeerApproved], required: []string{"clientId"}},
	TypeRejectClient:       {decode: decode[RejectClient], required: []string{"clientId", "sessionId"}},
	TypeSessionRejected:    {decode: decode[SessionRejected], required: []string{"sessionId"}},
	TypeSessionNotFound:    {decode: decode[SessionNotFound]},
	TypeOffer:              {decode: decode[Offer], required: []string{"sessionId", "targetId", "signal"}},
	TypeAnswer:             {decode: decode[Answer], required: []string{"sessionId", "targetId", "signal"}},
	TypeCandidate:          {decode: decode[Candidate], required: []string{"sessionId", "targetId", "signal"}},
	TypeClientConnected:    {decode: decode[ClientConnected], required: []string{"sessionId", "targetId", "status"}},
	TypeHostDisconnected:   {decode: decode[HostDisconnected]},
	TypePeerDisconnected:   {decode: decode[PeerDisconnected], required: []string{"clientId"}},
	TypeClientDisconnected: {decode: decode[ClientDisconnected], required: []string{"clientId"}},
	TypePing:               {decode: decode[Ping]},
	TypePong:               {decode: decode[Pong]},
}

// Parse decodes one signaling message.
func Parse(data []byte) (Message, error) {
	return parse(data, signalSpecs)
}
