package udp

import "log"

const (
	defaultFragmentSize  = 1400
	defaultStreamBacklog = 32
	minStreamBacklog     = 1
	minFragmentSize      = 64
)

// StreamConfig tunes a Stream's ARQ behavior.
type StreamConfig struct {
	// FragmentSize is the largest data-frame payload this side will accept
	// in one read; advertised to the peer during Handshake.
	FragmentSize int

	// PeerFragmentSize, if set, skips the handshake and assumes the peer's
	// limit is already known (both sides were configured out of band).
	PeerFragmentSize int

	// Logger is used for frame-level tracing; defaults to discarding.
	Logger *log.Logger

	ReadBacklog  int
	WriteBacklog int
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		FragmentSize: defaultFragmentSize,
		ReadBacklog:  defaultStreamBacklog,
		WriteBacklog: defaultStreamBacklog,
		Logger:       discardLogger,
	}
}

func sanitizeStreamConfig(cfg StreamConfig) StreamConfig {
	if cfg.FragmentSize < minFragmentSize {
		cfg.FragmentSize = defaultFragmentSize
	}
	if cfg.PeerFragmentSize < 0 {
		cfg.PeerFragmentSize = 0
	}
	if cfg.ReadBacklog < minStreamBacklog {
		cfg.ReadBacklog = defaultStreamBacklog
	}
	if cfg.WriteBacklog < minStreamBacklog {
		cfg.WriteBacklog = defaultStreamBacklog
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger
	}
	return cfg
}
