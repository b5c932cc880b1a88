// Package domain contains identifiers without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MinSessionCodeLen     = 4
	MaxSessionCodeLen     = 8
	DefaultSessionCodeLen = 6
	ClientIDLen           = 8
)

var (
	ErrSessionCodeLength = errors.New("session code length out of range")
	ErrSessionCodeEmpty  = errors.New("session code empty")
)

// SessionCode is the short shared secret a client types to join a host.
type SessionCode string

// ClientID identifies a participant inside one session.
type ClientID string

// HostID is the sender id stamped on everything the host relays.
const HostID ClientID = "host"

type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

func (r Role) Valid() bool {
	return r == RoleHost || r == RoleClient
}

// NewSessionCode returns n upper-case hex characters taken from a fresh uuid.
func NewSessionCode(n int) (SessionCode, error) {
	if n < MinSessionCodeLen || n > MaxSessionCodeLen {
		return "", ErrSessionCodeLength
	}
	return SessionCode(strings.ToUpper(randomHex(n))), nil
}

// ParseSessionCode normalizes user input: trims blanks, upper-cases.
func ParseSessionCode(raw string) (SessionCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrSessionCodeEmpty
	}
	if len(code) < MinSessionCodeLen || len(code) > MaxSessionCodeLen {
		return "", ErrSessionCodeLength
	}
	return SessionCode(code), nil
}

func NewClientID() ClientID {
	return ClientID(randomHex(ClientIDLen))
}

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
