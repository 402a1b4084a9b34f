package yamux

import "io"

// Client wraps pipe as the initiator side of a multiplexed session: it
// allocates odd stream ids, per spec §4.5.
func Client(pipe io.ReadWriteCloser, cfg Config) (*Session, error) {
	return newSession(pipe, cfg, true), nil
}

// Server wraps pipe as the acceptor side of a multiplexed session: it
// allocates even stream ids, per spec §4.5.
func Server(pipe io.ReadWriteCloser, cfg Config) (*Session, error) {
	return newSession(pipe, cfg, false), nil
}
