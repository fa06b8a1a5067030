package asyncnet

import "net"

// config holds every construction option recognized by both
// NetworkWriter and NetworkReader (spec.md §6's option table),
// validated eagerly by the constructors. Grounded on
// hayabusa-cloud-framer/options.go's functional-option shape and
// xtaci/kcptun/std/smuxcfg.go's eager-validation style.
type config struct {
	maxMessageSize       int
	pooledBuffersPerBkt  int
	preallocatedStates   int
	defaultEndpoint      net.Addr
	logger               Logger
	tuning               socketTuning
}

func defaultConfig() config {
	return config{
		maxMessageSize:      64 * 1024,
		pooledBuffersPerBkt: 0,
		preallocatedStates:  0,
		logger:              defaultLogger(),
		tuning:              defaultSocketTuning,
	}
}

// Option mutates engine construction options. Applied in order; the
// last WithX call for a given field wins.
type Option func(*config) error

// WithMaxMessageSize bounds the payload size of every frame
// (max_message_size / packet_buffer_size in spec.md §6). Must be > 0.
func WithMaxMessageSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.maxMessageSize = n
		return nil
	}
}

// WithPooledBuffersPerBucket sets the buffer pool's pre-warm target per
// size-class bucket.
func WithPooledBuffersPerBucket(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return ErrInvalidConfig
		}
		c.pooledBuffersPerBkt = n
		return nil
	}
}

// WithPreallocatedStateObjects sets the warm pool size for completion
// state objects.
func WithPreallocatedStateObjects(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return ErrInvalidConfig
		}
		c.preallocatedStates = n
		return nil
	}
}

// WithDefaultEndpoint sets the placeholder address attached to state
// objects before first use.
func WithDefaultEndpoint(addr net.Addr) Option {
	return func(c *config) error {
		if addr == nil {
			return ErrInvalidConfig
		}
		c.defaultEndpoint = addr
		return nil
	}
}

// WithLogger injects the Logger used to report non-fatal reader-side
// errors (spec.md §4.F, §7).
func WithLogger(l Logger) Option {
	return func(c *config) error {
		if l == nil {
			return ErrInvalidConfig
		}
		c.logger = l
		return nil
	}
}

// WithSocketTuning overrides the default socket-level tuning
// (TCP_NODELAY on, no explicit buffer sizing, no SO_REUSEADDR) applied
// to dialed/accepted connections and listeners.
func WithSocketTuning(noDelay bool, sendBuf, recvBuf int, reuseAddr bool) Option {
	return func(c *config) error {
		if sendBuf < 0 || recvBuf < 0 {
			return ErrInvalidConfig
		}
		c.tuning = socketTuning{noDelay: noDelay, sendBuf: sendBuf, recvBuf: recvBuf, reuseAddr: reuseAddr}
		return nil
	}
}

func buildConfig(opts []Option) (config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return config{}, err
		}
	}
	return c, nil
}
