package core

// Frame is a raw serialized signaling payload.
type Frame []byte

// SessionID identifies one transport session (one websocket connection).
type SessionID string

// SignalConnection abstracts the signaling transport towards one browser.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
