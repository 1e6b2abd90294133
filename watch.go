package hypo

import (
	"context"
	"errors"
	"log/slog"

	"github.com/callzhang/hypo/internal/transport"
)

// OnClipboard registers callback for every message Watch receives. The
// returned function unsubscribes; it is safe to call more than once.
func (c *Client) OnClipboard(callback func(*Message)) func() {
	return c.subs.subscribe("", callback)
}

// OnContent registers callback for messages of one content type.
func (c *Client) OnContent(ct ContentType, callback func(*Message)) func() {
	return c.subs.subscribe(ct, callback)
}

// Watch receives messages until ctx is done and hands each one to the
// registered callbacks. Messages that cannot be parsed or opened are
// logged and skipped. Each time the peer drops the connection Watch calls
// Connect again on the same URL, and gives up if that fails.
//
// Watch returns ctx.Err() when ctx ends, and ErrClientClosed after Close.
func (c *Client) Watch(ctx context.Context) error {
	for {
		msg, err := c.Receive(ctx)
		switch {
		case err == nil:
			c.subs.notify(msg)
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case skippable(err):
			c.cfg.logger.Warn("skipped message", slog.Any("error", err))
			continue
		case errors.Is(err, ErrConnectionClosed):
			if err := c.reconnect(ctx); err != nil {
				return err
			}
			continue
		}
		return err
	}
}

func skippable(err error) bool {
	var decErr *DecryptionError
	return errors.Is(err, ErrMalformedEnvelope) ||
		errors.Is(err, ErrPlaintextRejected) ||
		errors.Is(err, ErrInvalidKeyLength) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, transport.ErrInvalidMessage) ||
		errors.As(err, &decErr)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	url := c.url
	c.mu.Unlock()
	if url == "" {
		return ErrNotConnected
	}

	c.cfg.logger.Info("connection lost, reconnecting", slog.String("url", url))
	return c.Connect(ctx, url)
}
