package app

import (
	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/protocol"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(conn core.SignalConnection, typ protocol.Type) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SignalConnection, protocol.Type) BackpressureAction {
	return KickMember
}

// LenientPolicy drops the message and keeps the connection.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.SignalConnection, protocol.Type) BackpressureAction {
	return DropMessage
}
