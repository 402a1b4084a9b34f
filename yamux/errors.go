package yamux

import "errors"

// Peer protocol violations. ErrInvalidVersion, ErrInvalidMsgType,
// ErrInvalidStreamID and ErrDuplicateStream make the session send a
// GoAway(ProtocolError) frame and tear itself down; ErrUnexpectedFlag and
// ErrRecvWindowExceeded reset only the offending stream.
var (
	ErrInvalidVersion     = errors.New("yamux: invalid protocol version")
	ErrInvalidMsgType     = errors.New("yamux: invalid message type")
	ErrInvalidStreamID    = errors.New("yamux: invalid stream id for frame type")
	ErrUnexpectedFlag     = errors.New("yamux: unexpected flag combination")
	ErrDuplicateStream    = errors.New("yamux: duplicate stream id")
	ErrRecvWindowExceeded = errors.New("yamux: receive window exceeded")
)

// Session lifecycle errors.
var (
	ErrSessionShutdown  = errors.New("yamux: session shutdown")
	ErrStreamsExhausted = errors.New("yamux: streams exhausted")
	ErrRemoteGoAway     = errors.New("yamux: remote end is going away")
)

// Timer-driven, always session-fatal.
var (
	ErrConnectionWriteTimeout = errors.New("yamux: connection write timeout")
	ErrKeepAliveTimeout       = errors.New("yamux: keepalive timeout")
	ErrStreamOpenTimeout      = errors.New("yamux: stream open timeout")
)

// Per-stream terminal errors.
var (
	ErrStreamClosed    = errors.New("yamux: stream closed")
	ErrConnectionReset = errors.New("yamux: connection reset")
)
