package transport

import (
	"log/slog"
	"time"

	"github.com/callzhang/hypo/frame"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeGracePeriod        = time.Second
)

type settings struct {
	logger           *slog.Logger
	backoff          Backoff
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	readLimit        int64
}

func newSettings(opts []Option) *settings {
	s := &settings{
		logger:           slog.New(slog.DiscardHandler),
		backoff:          DefaultBackoff(),
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		readLimit:        frame.HeaderSize + frame.MaxFrameSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures Dial and NewListener.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBackoff replaces the redial policy.
func WithBackoff(b Backoff) Option {
	return func(s *settings) {
		s.backoff = b
	}
}

// WithRetries sets how many times a failed handshake is redialed, keeping
// the rest of the policy. Zero disables redials.
// Default: 3
func WithRetries(n int) Option {
	return func(s *settings) {
		s.backoff.Retries = max(n, 0)
	}
}

// WithHandshakeTimeout bounds each upgrade attempt.
// Default: 10 seconds
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds each write when the context has no deadline.
// Default: 10 seconds
func WithWriteTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.writeTimeout = d
	}
}
