package yamux

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const initialStreamWindow = 262144 // 256 KiB, per spec §6.

const (
	defaultAcceptBacklog          = 256
	defaultKeepAliveInterval      = 30 * time.Second
	defaultConnectionWriteTimeout = 10 * time.Second
	defaultMaxStreamWindowSize    = initialStreamWindow
	defaultStreamOpenTimeout      = 300 * time.Second
	defaultStreamCloseTimeout     = 70 * time.Second

	// minStreamWindowSize is a floor only against the zero value, not a
	// policy minimum: tests (e.g. the S2 backpressure scenario) legitimately
	// configure windows far smaller than the spec default.
	minStreamWindowSize = 1
)

// Config carries the tunable knobs spec §6 lists for a Session. Every
// field has a spec-mandated default; DefaultConfig returns that default
// set and sanitizeConfig clamps anything a caller passed a nonsensical
// value for, the way the teacher's mux.DefaultConfig/sanitizeConfig pair
// does for its own Config type.
type Config struct {
	// AcceptBacklog bounds how many remotely-opened streams may hold an
	// accept-backlog permit at once. A permit is held from admission until
	// the stream is closed or reset, not merely until AcceptStream returns
	// it; streams beyond the bound wait in a pending-admission queue.
	AcceptBacklog int

	// EnableKeepAlive, when true, arms a periodic Ping every
	// KeepAliveInterval; two consecutive unacknowledged pings shut the
	// session down with ErrKeepAliveTimeout.
	EnableKeepAlive bool
	KeepAliveInterval time.Duration

	// ConnectionWriteTimeout bounds a single frame write; exceeding it
	// is session-fatal.
	ConnectionWriteTimeout time.Duration

	// MaxStreamWindowSize upper-bounds the receive credit a Stream will
	// advertise to its peer.
	MaxStreamWindowSize uint32

	// StreamOpenTimeout bounds how long a locally-opened stream may sit
	// in SYNSent before the peer ACKs; zero disables it. Expiry is
	// session-fatal, not stream-fatal: an unresponsive peer indicates a
	// broken connection, not a single bad stream.
	StreamOpenTimeout time.Duration

	// StreamCloseTimeout bounds how long a locally-half-closed stream
	// may wait for the peer's FIN before being force-reset; zero
	// disables it.
	StreamCloseTimeout time.Duration

	// Logger is an opaque printf-style sink. A nil Logger gets a
	// default one writing to LogOutput.
	Logger    *logrus.Logger
	LogOutput *os.File
}

// DefaultConfig returns the spec §6 default configuration.
func DefaultConfig() Config {
	return Config{
		AcceptBacklog:          defaultAcceptBacklog,
		EnableKeepAlive:        true,
		KeepAliveInterval:      defaultKeepAliveInterval,
		ConnectionWriteTimeout: defaultConnectionWriteTimeout,
		MaxStreamWindowSize:    defaultMaxStreamWindowSize,
		StreamOpenTimeout:      defaultStreamOpenTimeout,
		StreamCloseTimeout:     defaultStreamCloseTimeout,
		LogOutput:              os.Stderr,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.AcceptBacklog <= 0 {
		cfg.AcceptBacklog = defaultAcceptBacklog
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.ConnectionWriteTimeout <= 0 {
		cfg.ConnectionWriteTimeout = defaultConnectionWriteTimeout
	}
	if cfg.MaxStreamWindowSize == 0 {
		cfg.MaxStreamWindowSize = defaultMaxStreamWindowSize
	} else if cfg.MaxStreamWindowSize < minStreamWindowSize {
		cfg.MaxStreamWindowSize = minStreamWindowSize
	}
	if cfg.StreamOpenTimeout < 0 {
		cfg.StreamOpenTimeout = defaultStreamOpenTimeout
	}
	if cfg.StreamCloseTimeout < 0 {
		cfg.StreamCloseTimeout = defaultStreamCloseTimeout
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = &logrus.Logger{
			Out:   cfg.LogOutput,
			Level: logrus.InfoLevel,
			Formatter: &logrus.TextFormatter{
				FullTimestamp: true,
			},
		}
	}
	return cfg
}
