package hypo

import (
	"errors"
	"fmt"

	"github.com/callzhang/hypo/frame"
	"github.com/callzhang/hypo/internal/crypto"
	"github.com/callzhang/hypo/internal/transport"
	"github.com/callzhang/hypo/keystore"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrInvalidKeyLength is returned when a key is not exactly 32 bytes.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrAuthenticationFailed is returned when an envelope fails AEAD
	// verification. Wrong key, wrong device id and tampering are not
	// distinguished.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMalformedEnvelope is matched by every *EnvelopeError.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrFrameTooLarge is returned when a frame length exceeds the ceiling.
	ErrFrameTooLarge = frame.ErrFrameTooLarge

	// ErrFrameIncomplete signals that more bytes are needed. It is not a
	// failure.
	ErrFrameIncomplete = frame.ErrFrameIncomplete

	// ErrKeyNotFound is returned when no key is filed under a device id or
	// its legacy variant.
	ErrKeyNotFound = keystore.ErrKeyNotFound

	// ErrPlaintextRejected is returned by Open when plaintext envelopes are
	// disabled.
	ErrPlaintextRejected = errors.New("plaintext envelope rejected")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrMissingDeviceID is returned when the local device has no id.
	ErrMissingDeviceID = errors.New("device id is required")

	// ErrNotConnected is returned by Send and Receive before Connect.
	ErrNotConnected = errors.New("client is not connected")

	// ErrConnectionClosed is returned when the peer closed the connection.
	ErrConnectionClosed = transport.ErrConnClosed

	// ErrDeviceAlreadyConnected is returned when the peer already holds a
	// session for this device id and force-register was not requested.
	ErrDeviceAlreadyConnected = transport.ErrDeviceAlreadyConnected
)

// Envelope field failures. An *EnvelopeError carrying one of these also
// matches ErrMalformedEnvelope.
var (
	ErrInvalidID            = errors.New("invalid id")
	ErrInvalidTimestamp     = errors.New("invalid timestamp")
	ErrUnknownType          = errors.New("unknown message type")
	ErrUnsupportedVersion   = errors.New("unsupported version")
	ErrMissingField         = errors.New("missing required field")
	ErrInvalidBase64        = errors.New("invalid base64")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrInvalidTag           = errors.New("invalid tag")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidPayload       = errors.New("invalid clipboard payload")
)

// HypoError is implemented by all structured errors in this package.
type HypoError interface {
	error
	HypoError() // marker method
}

// EnvelopeError reports a schema or encoding violation in a sync envelope.
type EnvelopeError struct {
	Field string // JSON path, e.g. "payload.encryption.nonce"
	Err   error
}

func (e *EnvelopeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed envelope: %v", e.Err)
	}
	return fmt.Sprintf("malformed envelope: %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *EnvelopeError) Is(target error) bool {
	return target == ErrMalformedEnvelope
}

// HypoError implements the HypoError interface.
func (e *EnvelopeError) HypoError() {}

func fieldError(field string, err error) error {
	return &EnvelopeError{Field: field, Err: err}
}

// DecryptionError reports that an envelope from DeviceID could not be
// opened. Err is ErrAuthenticationFailed, ErrKeyNotFound or
// ErrInvalidKeyLength.
type DecryptionError struct {
	DeviceID string
	Err      error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt envelope from %q: %v", e.DeviceID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// HypoError implements the HypoError interface.
func (e *DecryptionError) HypoError() {}

// HandshakeError is returned when the peer refuses the websocket upgrade.
type HandshakeError struct {
	StatusCode int
	Message    string
}

func (e *HandshakeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("handshake rejected %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("handshake rejected %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *HandshakeError) Is(target error) bool {
	return e.StatusCode == 409 && target == ErrDeviceAlreadyConnected
}

// HypoError implements the HypoError interface.
func (e *HandshakeError) HypoError() {}

// wrapCryptoError converts internal crypto errors to public errors.
func wrapCryptoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return ErrAuthenticationFailed
	case errors.Is(err, crypto.ErrInvalidKeySize):
		return fmt.Errorf("%w: %v", ErrInvalidKeyLength, err)
	case errors.Is(err, crypto.ErrInvalidNonceSize):
		return fieldError("payload.encryption.nonce", ErrInvalidNonce)
	case errors.Is(err, crypto.ErrInvalidTagSize):
		return fieldError("payload.encryption.tag", ErrInvalidTag)
	}
	return err
}

// wrapError converts internal transport errors to public errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var hsErr *transport.HandshakeError
	if errors.As(err, &hsErr) {
		return &HandshakeError{
			StatusCode: hsErr.StatusCode,
			Message:    hsErr.Message,
		}
	}

	return err
}
