package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callzhang/hypo/frame"
)

// Conn is one websocket session. Send and SendText may be called
// concurrently; Receive must be called from a single goroutine.
type Conn struct {
	ws      *websocket.Conn
	headers Headers
	logger  *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	// buf holds bytes of a binary frame split across messages. Only the
	// reader touches it.
	buf []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, h Headers, s *settings) *Conn {
	ws.SetReadLimit(s.readLimit)
	return &Conn{
		ws:           ws,
		headers:      h,
		logger:       s.logger.With(slog.String("session", h.DeviceID)),
		writeTimeout: s.writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Headers returns the identity headers of the session: the peer's on an
// accepted connection, our own on a dialed one.
func (c *Conn) Headers() Headers {
	return c.headers
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Send writes envelope as a single length-prefixed binary frame.
func (c *Conn) Send(ctx context.Context, envelope []byte) error {
	data, err := frame.Encode(envelope)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.BinaryMessage, data)
}

// SendText writes envelope un-framed as a text message.
func (c *Conn) SendText(ctx context.Context, envelope []byte) error {
	if len(envelope) > frame.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes, max %d", frame.ErrFrameTooLarge, len(envelope), frame.MaxFrameSize)
	}
	return c.write(ctx, websocket.TextMessage, envelope)
}

func (c *Conn) write(ctx context.Context, messageType int, data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return c.translate(err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return c.contextError(ctx, hasDeadline, err)
	}
	return nil
}

// contextError reports ctx's error for a read or write cut short by it.
// The socket deadline can fire just before the context notices its own.
func (c *Conn) contextError(ctx context.Context, hasDeadline bool, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if hasDeadline && errors.As(err, &netErr) && netErr.Timeout() {
		return context.DeadlineExceeded
	}
	return c.translate(err)
}

// Receive returns the next envelope. Binary messages are decoded as
// frames, buffering across messages when a frame is split; a text message
// is returned as-is if it is a JSON object.
//
// Cancelling ctx interrupts a blocked read and closes the Conn; the call
// returns ctx's error and later calls return ErrConnClosed. Any other read
// failure also closes the Conn and matches ErrConnClosed.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	for {
		if len(c.buf) > 0 {
			env, rest, err := frame.Decode(c.buf)
			switch {
			case err == nil:
				c.buf = bytes.Clone(rest)
				return env, nil
			case !errors.Is(err, frame.ErrFrameIncomplete):
				c.buf = nil
				return nil, err
			}
		}

		messageType, data, err := c.read(ctx)
		if err != nil {
			return nil, err
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.buf = append(c.buf, data...)
		case websocket.TextMessage:
			trimmed := bytes.TrimSpace(data)
			if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
				return nil, fmt.Errorf("%w: text message is not a JSON object", ErrInvalidMessage)
			}
			c.logger.Debug("received un-framed text message", slog.Int("bytes", len(trimmed)))
			return trimmed, nil
		}
	}
}

func (c *Conn) read(ctx context.Context) (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, ErrConnClosed
	default:
	}

	deadline, hasDeadline := ctx.Deadline()
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return 0, nil, c.translate(err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		// A failed read leaves the websocket unreadable for good, so the
		// Conn is closed and later calls see ErrConnClosed.
		err = c.contextError(ctx, hasDeadline, err)
		if !errors.Is(err, ErrConnClosed) && !isContextError(err) {
			err = fmt.Errorf("%w: %v", ErrConnClosed, err)
		}
		_ = c.closeWith(websocket.CloseGoingAway, "read aborted")
		return 0, nil, err
	}
	return messageType, data, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Conn) translate(err error) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return err
}

// Close sends a close message and tears down the socket.
func (c *Conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()

		err = c.ws.Close()
		c.logger.Debug("connection closed", slog.Int("code", code))
	})
	return err
}
