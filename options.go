package hypo

import (
	"log/slog"
	"time"
)

const (
	// DefaultRelayURL is the production cloud relay endpoint.
	DefaultRelayURL = "wss://hypo.fly.dev/ws"
	// DefaultLANPort is the port peers listen on for direct connections.
	DefaultLANPort = 7010
	// DefaultClientVersion is sent in the X-Hypo-Client header.
	DefaultClientVersion = "0.2.0"

	defaultHandshakeTimeout = 10 * time.Second
	defaultRetries          = 3
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	logger           *slog.Logger
	sessionID        string
	environment      string
	clientVersion    string
	forceRegister    bool
	handshakeTimeout time.Duration
	retries          int
	codecOptions     []CodecOption
}

// Option configures the client.
type Option func(*clientConfig)

// WithLogger sets the client logger. It is passed on to the codec and
// transport unless WithCodecOptions overrides it.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSessionID sets the X-Device-Id header. By default it is the local
// device id; the envelope device_id and AAD are unaffected.
func WithSessionID(id string) Option {
	return func(c *clientConfig) {
		c.sessionID = id
	}
}

// WithEnvironment sets the X-Hypo-Environment header.
func WithEnvironment(env string) Option {
	return func(c *clientConfig) {
		c.environment = env
	}
}

// WithClientVersion sets the X-Hypo-Client header.
// Default: DefaultClientVersion
func WithClientVersion(v string) Option {
	return func(c *clientConfig) {
		c.clientVersion = v
	}
}

// WithForceRegister asks the peer to replace an existing session for the
// same device id instead of rejecting the connection.
func WithForceRegister(force bool) Option {
	return func(c *clientConfig) {
		c.forceRegister = force
	}
}

// WithHandshakeTimeout bounds each connection attempt.
// Default: 10 seconds
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.handshakeTimeout = d
	}
}

// WithRetries sets how many times a failed handshake is retried.
// Default: 3
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithCodecOptions passes options through to the client's Codec.
func WithCodecOptions(opts ...CodecOption) Option {
	return func(c *clientConfig) {
		c.codecOptions = append(c.codecOptions, opts...)
	}
}
