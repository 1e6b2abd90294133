package hypo

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/callzhang/hypo/internal/transport"
)

// Message is a received envelope and its opened content.
type Message struct {
	Envelope *SyncEnvelope
	Payload  *ClipboardPayload
}

// Client sends and receives clipboard envelopes over one websocket, either
// to a LAN peer or through the relay.
type Client struct {
	cfg   *clientConfig
	local Device
	codec *Codec
	subs  *subscriptionManager

	mu     sync.Mutex
	conn   *transport.Conn
	url    string
	closed bool
}

// NewClient creates a client for local, resolving keys through resolver.
func NewClient(local Device, resolver KeyResolver, opts ...Option) (*Client, error) {
	if local.ID == "" {
		return nil, ErrMissingDeviceID
	}
	if resolver == nil {
		return nil, errors.New("key resolver is required")
	}

	cfg := &clientConfig{
		logger:           slog.New(slog.DiscardHandler),
		clientVersion:    DefaultClientVersion,
		handshakeTimeout: defaultHandshakeTimeout,
		retries:          defaultRetries,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.sessionID == "" {
		cfg.sessionID = local.ID
	}

	codecOpts := append([]CodecOption{WithCodecLogger(cfg.logger)}, cfg.codecOptions...)
	return &Client{
		cfg:   cfg,
		local: local,
		codec: NewCodec(local, resolver, codecOpts...),
		subs:  newSubscriptionManager(),
	}, nil
}

// Codec returns the codec the client seals and opens with.
func (c *Client) Codec() *Codec {
	return c.codec
}

// Connect dials url. Failed handshakes are retried with backoff, except
// 400 and 409 rejections which surface as *HandshakeError.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	conn, err := transport.Dial(ctx, url, transport.Headers{
		DeviceID:      c.cfg.sessionID,
		Platform:      c.local.Platform,
		ClientVersion: c.cfg.clientVersion,
		Environment:   c.cfg.environment,
		ForceRegister: c.cfg.forceRegister,
	},
		transport.WithLogger(c.cfg.logger),
		transport.WithRetries(c.cfg.retries),
		transport.WithHandshakeTimeout(c.cfg.handshakeTimeout),
	)
	if err != nil {
		return wrapError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return ErrClientClosed
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.url = url
	return nil
}

func (c *Client) current() (*transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, ErrClientClosed
	case c.conn == nil:
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Send seals p for to and writes it as one frame.
func (c *Client) Send(ctx context.Context, p *ClipboardPayload, to Recipient) (*SyncEnvelope, error) {
	env, err := c.codec.Seal(p, to)
	if err != nil {
		return nil, err
	}
	return env, c.SendEnvelope(ctx, env)
}

// SendPlaintext writes p without encryption.
func (c *Client) SendPlaintext(ctx context.Context, p *ClipboardPayload, target *string) (*SyncEnvelope, error) {
	env, err := c.codec.SealPlaintext(p, target)
	if err != nil {
		return nil, err
	}
	return env, c.SendEnvelope(ctx, env)
}

// SendEnvelope serializes env and writes it as one frame.
func (c *Client) SendEnvelope(ctx context.Context, env *SyncEnvelope) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, data); err != nil {
		return c.connError(err)
	}

	c.cfg.logger.Info("sent envelope",
		slog.String("id", env.ID.String()),
		slog.String("content_type", string(env.Payload.ContentType)),
		slog.Int("bytes", len(data)),
		slog.Bool("plaintext", env.IsPlaintext()),
		slog.Bool("broadcast", env.IsBroadcast()))
	return nil
}

// Receive blocks for the next envelope and opens it. A malformed or
// undecryptable message is returned as an error; the connection stays
// usable and the caller may call Receive again. If ctx ends first the
// connection is dropped, and later calls return ErrConnectionClosed until
// Connect is called again.
func (c *Client) Receive(ctx context.Context) (*Message, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	data, err := conn.Receive(ctx)
	if err != nil {
		return nil, c.connError(err)
	}

	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}

	p, err := c.codec.Open(env)
	if err != nil {
		return nil, err
	}

	c.cfg.logger.Info("received envelope",
		slog.String("id", env.ID.String()),
		slog.String("device_id", env.Payload.DeviceID),
		slog.String("content_type", string(p.ContentType)),
		slog.Int("bytes", len(p.Data)))
	return &Message{Envelope: env, Payload: p}, nil
}

func (c *Client) connError(err error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed && errors.Is(err, transport.ErrConnClosed) {
		return ErrClientClosed
	}
	return wrapError(err)
}

// Close closes the connection. Further calls return ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.subs.clear()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
