package app

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/pion/webrtc/v4"
)

var errFull = errors.New("full")

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// drain returns everything received since the previous call.
func (c *fakeConn) drain(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()

	out := make([]protocol.Message, 0, len(frames))
	for _, f := range frames {
		m, err := protocol.Parse(f)
		if err != nil {
			t.Fatalf("%s received unparseable frame %s: %v", c.id, f, err)
		}
		out = append(out, m)
	}
	return out
}

func expectNone(t *testing.T, c *fakeConn) {
	t.Helper()
	if got := c.drain(t); len(got) != 0 {
		t.Fatalf("%s: expected no messages, got %#v", c.id, got)
	}
}

func expectOne[T protocol.Message](t *testing.T, c *fakeConn) T {
	t.Helper()
	got := c.drain(t)
	if len(got) != 1 {
		t.Fatalf("%s: expected 1 message, got %d: %#v", c.id, len(got), got)
	}
	m, ok := got[0].(T)
	if !ok {
		var zero T
		t.Fatalf("%s: got %T, want %T", c.id, got[0], zero)
	}
	return m
}

// setup creates a session and returns the registry, host and session code.
func setup(t *testing.T) (*Registry, *fakeConn, domain.SessionCode) {
	t.Helper()
	reg := NewRegistry(6, SimplePolicy{})
	host := newFakeConn("host-conn")
	reg.Handle(host, protocol.CreateSession{})
	created := expectOne[protocol.SessionCreated](t, host)
	if len(created.SessionID) != 6 {
		t.Fatalf("code %q has wrong length", created.SessionID)
	}
	return reg, host, created.SessionID
}

// joinAndApprove drives a client through join and approval.
func joinAndApprove(t *testing.T, reg *Registry, host *fakeConn, code domain.SessionCode, name string) (*fakeConn, domain.ClientID) {
	t.Helper()
	client := newFakeConn(name)
	reg.Handle(client, protocol.JoinSession{SessionID: code})
	req := expectOne[protocol.ClientRequestJoin](t, host)
	expectNone(t, client)

	reg.Handle(host, protocol.ApproveClient{SessionID: code, ClientID: req.ClientID})
	joined := expectOne[protocol.SessionJoined](t, client)
	if joined.ClientID != req.ClientID || joined.SessionID != code {
		t.Fatalf("unexpected session-joined: %+v", joined)
	}
	approved := expectOne[protocol.PeerApproved](t, host)
	if approved.ClientID != req.ClientID {
		t.Fatalf("peer-approved for %q, want %q", approved.ClientID, req.ClientID)
	}
	return client, req.ClientID
}

func TestRegistry_CreateSessionUniqueCodes(t *testing.T) {
	reg := NewRegistry(4, nil)
	seen := make(map[domain.SessionCode]bool)
	for i := 0; i < 200; i++ {
		c := newFakeConn(fmt.Sprintf("h%d", i))
		code := reg.CreateSession(c)
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
	if st := reg.Stats(); st.Sessions != 200 {
		t.Fatalf("sessions = %d, want 200", st.Sessions)
	}
}

func TestRegistry_JoinUnknownSession(t *testing.T) {
	reg, host, _ := setup(t)
	client := newFakeConn("client")

	reg.Handle(client, protocol.JoinSession{SessionID: "ZZZZZZ"})
	expectOne[protocol.SessionNotFound](t, client)
	expectNone(t, host)

	if st := reg.Stats(); st.Pending != 0 {
		t.Fatalf("pending = %d, want 0", st.Pending)
	}
}

func TestRegistry_JoinNormalizesCode(t *testing.T) {
	reg, host, code := setup(t)
	client := newFakeConn("client")

	reg.Handle(client, protocol.JoinSession{SessionID: domain.SessionCode(" " + strings.ToLower(string(code)) + " ")})
	req := expectOne[protocol.ClientRequestJoin](t, host)
	if req.SessionID != code {
		t.Fatalf("session = %q, want %q", req.SessionID, code)
	}
}

func TestRegistry_ApproveFlow(t *testing.T) {
	reg, host, code := setup(t)
	joinAndApprove(t, reg, host, code, "client")

	if st := reg.Stats(); st.Pending != 0 || st.Approved != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRegistry_ApproveIsIdempotentAndHostOnly(t *testing.T) {
	reg, host, code := setup(t)
	client, id := joinAndApprove(t, reg, host, code, "client")

	t.Run("duplicate approve", func(t *testing.T) {
		reg.Handle(host, protocol.ApproveClient{SessionID: code, ClientID: id})
		expectNone(t, host)
		expectNone(t, client)
	})

	t.Run("non-host approve", func(t *testing.T) {
		other := newFakeConn("other")
		reg.Handle(other, protocol.JoinSession{SessionID: code})
		req := expectOne[protocol.ClientRequestJoin](t, host)

		reg.Handle(client, protocol.ApproveClient{SessionID: code, ClientID: req.ClientID})
		expectNone(t, other)
		expectNone(t, host)
		if st := reg.Stats(); st.Pending != 1 {
			t.Fatalf("pending = %d, want 1", st.Pending)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		reg.Handle(host, protocol.ApproveClient{SessionID: code, ClientID: "deadbeef"})
		expectNone(t, host)
	})
}

func TestRegistry_Reject(t *testing.T) {
	reg, host, code := setup(t)
	client := newFakeConn("client")
	reg.Handle(client, protocol.JoinSession{SessionID: code})
	req := expectOne[protocol.ClientRequestJoin](t, host)

	reg.Handle(host, protocol.RejectClient{SessionID: code, ClientID: req.ClientID})
	rej := expectOne[protocol.SessionRejected](t, client)
	if rej.SessionID != code {
		t.Fatalf("session = %q", rej.SessionID)
	}
	expectNone(t, host)

	// rejected client's later disconnect must not reach the host
	reg.Disconnect(client)
	expectNone(t, host)

	reg.Handle(host, protocol.ApproveClient{SessionID: code, ClientID: req.ClientID})
	expectNone(t, client)
}

func TestRegistry_RelayStampsSender(t *testing.T) {
	reg, host, code := setup(t)
	client, id := joinAndApprove(t, reg, host, code, "client")

	reg.Handle(host, protocol.Offer{
		SessionID: code,
		TargetID:  id,
		SenderID:  "forged",
		Signal:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})
	offer := expectOne[protocol.Offer](t, client)
	if offer.SenderID != domain.HostID {
		t.Fatalf("sender = %q, want host", offer.SenderID)
	}

	reg.Handle(client, protocol.Answer{
		SessionID: code,
		TargetID:  domain.HostID,
		SenderID:  domain.HostID,
		Signal:    webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
	})
	answer := expectOne[protocol.Answer](t, host)
	if answer.SenderID != id {
		t.Fatalf("sender = %q, want %q", answer.SenderID, id)
	}

	reg.Handle(client, protocol.ClientConnected{SessionID: code, TargetID: domain.HostID, Status: protocol.StatusConnected})
	cc := expectOne[protocol.ClientConnected](t, host)
	if cc.SenderID != id {
		t.Fatalf("sender = %q, want %q", cc.SenderID, id)
	}
}

func TestRegistry_RelayDrops(t *testing.T) {
	reg, host, code := setup(t)
	client, id := joinAndApprove(t, reg, host, code, "client")

	pending := newFakeConn("pending")
	reg.Handle(pending, protocol.JoinSession{SessionID: code})
	req := expectOne[protocol.ClientRequestJoin](t, host)

	cand := func(target domain.ClientID) protocol.Candidate {
		return protocol.Candidate{SessionID: code, TargetID: target, Signal: webrtc.ICECandidateInit{Candidate: "candidate:1"}}
	}

	t.Run("host to pending client", func(t *testing.T) {
		reg.Handle(host, cand(req.ClientID))
		expectNone(t, pending)
	})
	t.Run("host to unknown client", func(t *testing.T) {
		reg.Handle(host, cand("nobody00"))
		expectNone(t, client)
	})
	t.Run("pending client to host", func(t *testing.T) {
		reg.Handle(pending, cand(domain.HostID))
		expectNone(t, host)
	})
	t.Run("client to client", func(t *testing.T) {
		reg.Handle(client, cand(req.ClientID))
		expectNone(t, pending)
		expectNone(t, host)
	})
	t.Run("stranger", func(t *testing.T) {
		reg.Handle(newFakeConn("stranger"), cand(id))
		expectNone(t, client)
	})
	t.Run("wrong session", func(t *testing.T) {
		c := cand(domain.HostID)
		c.SessionID = "OTHER1"
		reg.Handle(client, c)
		expectNone(t, host)
	})
}

func TestRegistry_HostDisconnectCascades(t *testing.T) {
	reg, host, code := setup(t)
	a, _ := joinAndApprove(t, reg, host, code, "a")
	b, _ := joinAndApprove(t, reg, host, code, "b")
	p := newFakeConn("p")
	reg.Handle(p, protocol.JoinSession{SessionID: code})
	expectOne[protocol.ClientRequestJoin](t, host)

	reg.Disconnect(host)
	for _, c := range []*fakeConn{a, b, p} {
		expectOne[protocol.HostDisconnected](t, c)
	}
	if st := reg.Stats(); st != (Stats{}) {
		t.Fatalf("stats = %+v, want empty", st)
	}

	late := newFakeConn("late")
	reg.Handle(late, protocol.JoinSession{SessionID: code})
	expectOne[protocol.SessionNotFound](t, late)

	// former members hold no membership anymore
	reg.Disconnect(a)
	expectNone(t, host)
}

func TestRegistry_ClientDisconnect(t *testing.T) {
	reg, host, code := setup(t)

	t.Run("pending", func(t *testing.T) {
		p := newFakeConn("p")
		reg.Handle(p, protocol.JoinSession{SessionID: code})
		req := expectOne[protocol.ClientRequestJoin](t, host)
		reg.Disconnect(p)
		got := expectOne[protocol.ClientDisconnected](t, host)
		if got.ClientID != req.ClientID {
			t.Fatalf("client = %q, want %q", got.ClientID, req.ClientID)
		}
	})

	t.Run("approved", func(t *testing.T) {
		a, id := joinAndApprove(t, reg, host, code, "a")
		reg.Disconnect(a)
		got := expectOne[protocol.PeerDisconnected](t, host)
		if got.ClientID != id {
			t.Fatalf("client = %q, want %q", got.ClientID, id)
		}
	})

	if st := reg.Stats(); st.Sessions != 1 || st.Pending != 0 || st.Approved != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRegistry_RejoinReplacesStaleMembership(t *testing.T) {
	reg, host, code := setup(t)
	client, oldID := joinAndApprove(t, reg, host, code, "client")

	reg.Handle(client, protocol.JoinSession{SessionID: code})
	got := host.drain(t)
	if len(got) != 2 {
		t.Fatalf("host got %d messages, want 2: %#v", len(got), got)
	}
	if pd, ok := got[0].(protocol.PeerDisconnected); !ok || pd.ClientID != oldID {
		t.Fatalf("first = %#v, want peer-disconnected for %q", got[0], oldID)
	}
	req, ok := got[1].(protocol.ClientRequestJoin)
	if !ok {
		t.Fatalf("second = %#v, want client-request-join", got[1])
	}
	if st := reg.Stats(); st.Pending != 1 || st.Approved != 0 {
		t.Fatalf("stats = %+v", st)
	}

	reg.Handle(host, protocol.ApproveClient{SessionID: code, ClientID: req.ClientID})
	expectOne[protocol.SessionJoined](t, client)
}

func TestRegistry_PeerEvicted(t *testing.T) {
	reg, host, code := setup(t)
	a, id := joinAndApprove(t, reg, host, code, "a")

	// only the host may evict
	reg.Handle(a, protocol.PeerDisconnected{ClientID: id})
	if st := reg.Stats(); st.Approved != 1 {
		t.Fatalf("approved = %d, want 1", st.Approved)
	}

	reg.Handle(host, protocol.PeerDisconnected{ClientID: id})
	expectNone(t, host)
	expectNone(t, a)
	if st := reg.Stats(); st.Approved != 0 {
		t.Fatalf("approved = %d, want 0", st.Approved)
	}

	reg.Disconnect(a)
	expectNone(t, host)
}

func TestRegistry_BackpressurePolicy(t *testing.T) {
	t.Run("kick", func(t *testing.T) {
		reg, host, code := setup(t)
		host.full = true
		c := newFakeConn("c")
		reg.Handle(c, protocol.JoinSession{SessionID: code})
		if !host.closed {
			t.Fatal("host connection should be closed by KickMember")
		}
	})

	t.Run("drop", func(t *testing.T) {
		reg := NewRegistry(6, LenientPolicy{})
		host := newFakeConn("host")
		code := reg.CreateSession(host)
		host.drain(t)
		host.full = true
		reg.Handle(newFakeConn("c"), protocol.JoinSession{SessionID: code})
		if host.closed {
			t.Fatal("host connection should stay open with LenientPolicy")
		}
		if st := reg.Stats(); st.Pending != 1 {
			t.Fatalf("pending = %d, want 1", st.Pending)
		}
	})
}

func TestRegistry_ConcurrentJoinAndDisconnect(t *testing.T) {
	reg, host, code := setup(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			reg.Handle(c, protocol.JoinSession{SessionID: code})
			reg.Disconnect(c)
		}(i)
	}
	wg.Wait()

	got := host.drain(t)
	if len(got) != 100 {
		t.Fatalf("host got %d messages, want 100", len(got))
	}
	joined := make(map[domain.ClientID]bool)
	for _, m := range got {
		switch m := m.(type) {
		case protocol.ClientRequestJoin:
			joined[m.ClientID] = true
		case protocol.ClientDisconnected:
			if !joined[m.ClientID] {
				t.Fatalf("client-disconnected for %q before its join request", m.ClientID)
			}
		default:
			t.Fatalf("unexpected %T", m)
		}
	}
	if st := reg.Stats(); st.Pending != 0 {
		t.Fatalf("pending = %d, want 0", st.Pending)
	}
}
