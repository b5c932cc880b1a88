package app

import (
	"sync"

	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 64

type session struct {
	code     domain.SessionCode
	host     core.SignalConnection
	pending  map[domain.ClientID]core.SignalConnection
	approved map[domain.ClientID]core.SignalConnection
}

// membership records which session a connection belongs to and under
// which id. The host is stored with domain.HostID.
type membership struct {
	code domain.SessionCode
	id   domain.ClientID
}

type Stats struct {
	Sessions int `json:"sessions"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
}

// Registry brokers join requests between hosts and clients and relays
// negotiation messages. Every handler runs under one mutex, reply
// emission included, so handlers never interleave.
type Registry struct {
	mu       sync.Mutex
	codeLen  int
	policy   Policy
	sessions map[domain.SessionCode]*session
	members  map[core.SignalConnection]membership
}

func NewRegistry(codeLen int, policy Policy) *Registry {
	if codeLen < domain.MinSessionCodeLen || codeLen > domain.MaxSessionCodeLen {
		codeLen = domain.DefaultSessionCodeLen
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		codeLen:  codeLen,
		policy:   policy,
		sessions: make(map[domain.SessionCode]*session),
		members:  make(map[core.SignalConnection]membership),
	}
}

// Handle dispatches one parsed message from conn.
func (r *Registry) Handle(conn core.SignalConnection, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.CreateSession:
		r.CreateSession(conn)
	case protocol.JoinSession:
		r.JoinSession(conn, m.SessionID)
	case protocol.ApproveClient:
		r.ApproveClient(conn, m.SessionID, m.ClientID)
	case protocol.RejectClient:
		r.RejectClient(conn, m.SessionID, m.ClientID)
	case protocol.PeerDisconnected:
		r.PeerEvicted(conn, m.ClientID)
	case protocol.Relayed:
		r.Relay(conn, m)
	default:
		log.Warn().Str("module", "app.registry").Str("conn", conn.ID()).Str("type", string(msg.MessageType())).Msg("unexpected message from participant")
	}
}

func (r *Registry) CreateSession(conn core.SignalConnection) domain.SessionCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked(conn)

	code, ok := r.newCodeLocked()
	if !ok {
		log.Error().Str("module", "app.registry").Str("conn", conn.ID()).Msg("could not allocate session code")
		conn.Close()
		return ""
	}
	r.sessions[code] = &session{
		code:     code,
		host:     conn,
		pending:  make(map[domain.ClientID]core.SignalConnection),
		approved: make(map[domain.ClientID]core.SignalConnection),
	}
	r.members[conn] = membership{code: code, id: domain.HostID}
	log.Info().Str("module", "app.registry").Str("conn", conn.ID()).Str("session", string(code)).Msg("session created")

	r.sendLocked(conn, protocol.SessionCreated{SessionID: code})
	return code
}

func (r *Registry) JoinSession(conn core.SignalConnection, raw domain.SessionCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := domain.ParseSessionCode(string(raw))
	var s *session
	if err == nil {
		s = r.sessions[code]
	}
	if s == nil {
		log.Info().Str("module", "app.registry").Str("conn", conn.ID()).Str("session", string(raw)).Msg("join: session not found")
		r.sendLocked(conn, protocol.SessionNotFound{})
		return
	}
	if s.host == conn {
		log.Warn().Str("module", "app.registry").Str("conn", conn.ID()).Str("session", string(code)).Msg("join: host cannot join own session")
		return
	}

	r.releaseLocked(conn)

	id := r.newClientIDLocked(s)
	s.pending[id] = conn
	r.members[conn] = membership{code: code, id: id}
	log.Info().Str("module", "app.registry").Str("conn", conn.ID()).Str("session", string(code)).Str("client", string(id)).Msg("join requested")

	r.sendLocked(s.host, protocol.ClientRequestJoin{ClientID: id, SessionID: code})
}

func (r *Registry) ApproveClient(conn core.SignalConnection, code domain.SessionCode, id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.hostedLocked(conn, code)
	if !ok {
		return
	}
	client, ok := s.pending[id]
	if !ok {
		log.Debug().Str("module", "app.registry").Str("session", string(s.code)).Str("client", string(id)).Msg("approve: not pending, ignored")
		return
	}
	delete(s.pending, id)
	s.approved[id] = client
	log.Info().Str("module", "app.registry").Str("session", string(s.code)).Str("client", string(id)).Msg("client approved")

	r.sendLocked(client, protocol.SessionJoined{SessionID: s.code, ClientID: id})
	r.sendLocked(s.host, protocol.PeerApproved{ClientID: id})
}

func (r *Registry) RejectClient(conn core.SignalConnection, code domain.SessionCode, id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.hostedLocked(conn, code)
	if !ok {
		return
	}
	client, ok := s.pending[id]
	if !ok {
		log.Debug().Str("module", "app.registry").Str("session", string(s.code)).Str("client", string(id)).Msg("reject: not pending, ignored")
		return
	}
	delete(s.pending, id)
	delete(r.members, client)
	log.Info().Str("module", "app.registry").Str("session", string(s.code)).Str("client", string(id)).Msg("client rejected")

	r.sendLocked(client, protocol.SessionRejected{SessionID: s.code})
}

// Relay forwards a negotiation message between the host and one approved
// client, stamping the sender id the registry knows to be true.
func (r *Registry) Relay(conn core.SignalConnection, msg protocol.Relayed) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := log.With().
		Str("module", "app.registry").
		Str("conn", conn.ID()).
		Str("type", string(msg.MessageType())).
		Str("target", string(msg.Target())).
		Logger()

	mem, ok := r.members[conn]
	if !ok {
		logger.Warn().Msg("relay: sender has no session, dropped")
		return
	}
	s := r.sessions[mem.code]
	if code, err := domain.ParseSessionCode(string(msg.Session())); err != nil || code != s.code {
		logger.Warn().Str("session", string(msg.Session())).Msg("relay: session mismatch, dropped")
		return
	}

	if mem.id == domain.HostID {
		dst, ok := s.approved[msg.Target()]
		if !ok {
			logger.Info().Msg("relay: target not approved, dropped")
			return
		}
		r.sendLocked(dst, msg.WithSender(domain.HostID))
		return
	}

	if _, ok := s.approved[mem.id]; !ok {
		logger.Info().Str("client", string(mem.id)).Msg("relay: sender not approved, dropped")
		return
	}
	if msg.Target() != domain.HostID {
		logger.Info().Str("client", string(mem.id)).Msg("relay: clients may only address the host, dropped")
		return
	}
	r.sendLocked(s.host, msg.WithSender(mem.id))
}

// PeerEvicted handles a host reporting that its connection to an approved
// client failed. The client leaves the session; nothing is emitted.
func (r *Registry) PeerEvicted(conn core.SignalConnection, id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mem, ok := r.members[conn]
	if !ok || mem.id != domain.HostID {
		return
	}
	s := r.sessions[mem.code]
	client, ok := s.approved[id]
	if !ok {
		return
	}
	delete(s.approved, id)
	delete(r.members, client)
	log.Info().Str("module", "app.registry").Str("session", string(s.code)).Str("client", string(id)).Msg("peer evicted by host")
}

// Disconnect cleans up after a closed transport.
func (r *Registry) Disconnect(conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(conn)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{Sessions: len(r.sessions)}
	for _, s := range r.sessions {
		st.Pending += len(s.pending)
		st.Approved += len(s.approved)
	}
	return st
}

// releaseLocked drops conn's membership and notifies whoever is left.
func (r *Registry) releaseLocked(conn core.SignalConnection) {
	mem, ok := r.members[conn]
	if !ok {
		return
	}
	delete(r.members, conn)
	s, ok := r.sessions[mem.code]
	if !ok {
		return
	}

	logger := log.With().
		Str("module", "app.registry").
		Str("conn", conn.ID()).
		Str("session", string(s.code)).
		Str("client", string(mem.id)).
		Logger()

	if mem.id == domain.HostID {
		delete(r.sessions, s.code)
		for _, c := range s.pending {
			delete(r.members, c)
			r.sendLocked(c, protocol.HostDisconnected{})
		}
		for _, c := range s.approved {
			delete(r.members, c)
			r.sendLocked(c, protocol.HostDisconnected{})
		}
		logger.Info().Int("pending", len(s.pending)).Int("approved", len(s.approved)).Msg("host left, session closed")
		return
	}

	if _, ok := s.pending[mem.id]; ok {
		delete(s.pending, mem.id)
		logger.Info().Msg("pending client left")
		r.sendLocked(s.host, protocol.ClientDisconnected{ClientID: mem.id})
		return
	}
	if _, ok := s.approved[mem.id]; ok {
		delete(s.approved, mem.id)
		logger.Info().Msg("approved client left")
		r.sendLocked(s.host, protocol.PeerDisconnected{ClientID: mem.id})
	}
}

func (r *Registry) hostedLocked(conn core.SignalConnection, code domain.SessionCode) (*session, bool) {
	mem, ok := r.members[conn]
	if !ok || mem.id != domain.HostID {
		log.Debug().Str("module", "app.registry").Str("conn", conn.ID()).Msg("caller is not a host, ignored")
		return nil, false
	}
	if parsed, err := domain.ParseSessionCode(string(code)); err != nil || parsed != mem.code {
		log.Debug().Str("module", "app.registry").Str("conn", conn.ID()).Str("session", string(code)).Msg("caller does not host this session, ignored")
		return nil, false
	}
	return r.sessions[mem.code], true
}

func (r *Registry) newCodeLocked() (domain.SessionCode, bool) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := domain.NewSessionCode(r.codeLen)
		if err != nil {
			return "", false
		}
		if _, taken := r.sessions[code]; !taken {
			return code, true
		}
	}
	return "", false
}

func (r *Registry) newClientIDLocked(s *session) domain.ClientID {
	for {
		id := domain.NewClientID()
		_, p := s.pending[id]
		_, a := s.approved[id]
		if !p && !a {
			return id
		}
	}
}

func (r *Registry) sendLocked(conn core.SignalConnection, msg protocol.Message) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("type", string(msg.MessageType())).Msg("marshal")
		return
	}
	if err := conn.TrySend(data); err != nil {
		switch r.policy.OnBackPressure(conn, msg.MessageType()) {
		case KickMember:
			log.Warn().Err(err).Str("module", "app.registry").Str("conn", conn.ID()).Str("type", string(msg.MessageType())).Msg("send failed, closing connection")
			conn.Close()
		case DropMessage:
			log.Warn().Err(err).Str("module", "app.registry").Str("conn", conn.ID()).Str("type", string(msg.MessageType())).Msg("send failed, message dropped")
		case NoAction:
		}
	}
}
