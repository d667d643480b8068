package room

import "errors"

var (
	// ErrNoSuchSession is returned when no participant is bound to a
	// transport session. Absence is an expected condition: messages can
	// arrive for users that already left.
	ErrNoSuchSession = errors.New("no participant for session")

	// ErrNegotiation wraps SDP offer/answer failures from the media capability.
	ErrNegotiation = errors.New("sdp negotiation failed")

	// ErrTransport wraps signaling delivery failures (peer gone mid-flight).
	ErrTransport = errors.New("signaling transport failed")
)
