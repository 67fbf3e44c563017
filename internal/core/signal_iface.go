package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a serialized outbound payload.
type Frame []byte

// SignalConnection abstracts a peer's messaging transport.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full queue yields ErrBackpressure.
type SignalConnection interface {
	ID() string
	TrySend(Frame) error
	Close()
}
