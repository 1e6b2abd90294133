package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

// Backoff is the redial policy for a failed websocket handshake.
type Backoff struct {
	// Retries is the number of redials after the first attempt.
	Retries int
	// Initial is the pause before the first redial.
	Initial time.Duration
	// Max caps the pause, before jitter.
	Max time.Duration
	// Factor grows the pause after each redial.
	Factor float64
	// Jitter spreads each pause by up to this fraction either way.
	Jitter float64
}

// DefaultBackoff returns the policy Dial uses unless told otherwise.
func DefaultBackoff() Backoff {
	return Backoff{
		Retries: 3,
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the pause before redial n, counting from zero.
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Initial)
	for range n {
		d *= b.Factor
		if d >= float64(b.Max) {
			break
		}
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Sleep waits Delay(n), returning early with ctx.Err() if ctx ends.
func (b Backoff) Sleep(ctx context.Context, n int) error {
	timer := time.NewTimer(b.Delay(n))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryable reports whether a failed dial is worth repeating. Errors with
// no HTTP response (refused, reset, DNS) are retried, as are timeouts,
// throttling and 5xx. A rejection the peer would repeat, such as missing
// headers or a duplicate device, is final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		return !errors.Is(err, ErrInvalidURL)
	}
	switch hsErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return hsErr.StatusCode >= http.StatusInternalServerError
}
