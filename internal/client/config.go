package client

import "time"

// DefaultAgentAddress is where a local agent listens unless told otherwise.
const DefaultAgentAddress = "localhost:28589"

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config controls dialing, frame memory, and write behavior for one client.
type Config struct {
	Address            string
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig

	// FrameHeap, when set, backs every decoded frame. Frames are then valid
	// only inside the callback that receives them.
	FrameHeap []byte
	// FrameHeapSize allocates a FrameHeap of this many bytes when FrameHeap
	// is nil. Zero selects per-frame heap allocation.
	FrameHeapSize int
	// MaxRecordSize caps a single record when no frame heap is configured.
	MaxRecordSize int
}

func DefaultConfig() Config {
	return Config{
		Address:            DefaultAgentAddress,
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 3,
		MaxRecordSize:      64 << 20,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.MaxRecordSize <= 0 {
		c.MaxRecordSize = def.MaxRecordSize
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
