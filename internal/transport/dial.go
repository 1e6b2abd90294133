package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// maxErrorBody caps how much of a rejection body is read.
const maxErrorBody = 4 << 10

// Dial opens a websocket to rawURL, sending h as connection headers.
// Failures that [Retryable] accepts are redialed per the [Backoff]; 400
// and 409 rejections are returned immediately as *HandshakeError.
func Dial(ctx context.Context, rawURL string, h Headers, opts ...Option) (*Conn, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}

	s := newSettings(opts)
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.handshakeTimeout,
	}

	for attempt := 0; ; attempt++ {
		ws, resp, err := dialer.DialContext(ctx, rawURL, h.HTTPHeader())
		if err == nil {
			s.logger.Info("connected",
				slog.String("url", rawURL),
				slog.String("device_id", h.DeviceID),
				slog.Bool("force_register", h.ForceRegister))
			return newConn(ws, h, s), nil
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
			err = handshakeError(resp)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= s.backoff.Retries || !Retryable(err) {
			return nil, err
		}

		s.logger.Warn("dial failed, retrying",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt+1),
			slog.Int("status", status),
			slog.Any("error", err))
		if err := s.backoff.Sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}

func handshakeError(resp *http.Response) error {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
	}
	return &HandshakeError{
		StatusCode: resp.StatusCode,
		Message:    parseErrorBody(body),
	}
}
