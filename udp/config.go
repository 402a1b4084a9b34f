package udp

const (
	defaultAcceptBacklog     = 32
	defaultReadWriteBacklog  = 32
	defaultReadBufferSize    = 2048
	defaultInitialBufferSize = 2048

	minBacklog    = 1
	minBufferSize = 512
)

// Config tunes a Listener and the per-peer Sessions it demultiplexes.
type Config struct {
	// AcceptBacklog bounds how many newly-seen peers may sit in Accept's
	// queue before a caller drains it.
	AcceptBacklog int

	// ReadBacklog/WriteBacklog bound each Session's internal queues.
	ReadBacklog  int
	WriteBacklog int

	// ReadBufferSize is the size of the Listener's raw per-packet read
	// buffer.
	ReadBufferSize int

	// InitialBufferSize seeds each Session's read reassembly buffer.
	InitialBufferSize int
}

func DefaultConfig() Config {
	return Config{
		AcceptBacklog:     defaultAcceptBacklog,
		ReadBacklog:       defaultReadWriteBacklog,
		WriteBacklog:      defaultReadWriteBacklog,
		ReadBufferSize:    defaultReadBufferSize,
		InitialBufferSize: defaultInitialBufferSize,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.AcceptBacklog < minBacklog {
		cfg.AcceptBacklog = defaultAcceptBacklog
	}
	if cfg.ReadBacklog < minBacklog {
		cfg.ReadBacklog = defaultReadWriteBacklog
	}
	if cfg.WriteBacklog < minBacklog {
		cfg.WriteBacklog = defaultReadWriteBacklog
	}
	if cfg.ReadBufferSize < minBufferSize {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.InitialBufferSize < minBufferSize {
		cfg.InitialBufferSize = defaultInitialBufferSize
	}
	return cfg
}
