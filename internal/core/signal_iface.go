package core

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts one participant's signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// ID is stable for the lifetime of the connection, used in logs.
	ID() string
	// TrySend queues f without blocking.
	TrySend(Frame) error
	Close()
}
