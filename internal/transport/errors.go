package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingHeaders is returned when X-Device-Id or X-Device-Platform
	// is absent.
	ErrMissingHeaders = errors.New("missing device headers")

	// ErrDeviceAlreadyConnected is returned when a session for the device
	// id already exists and force-register was not requested.
	ErrDeviceAlreadyConnected = errors.New("device already connected")

	// ErrConnClosed is returned by Receive and Send after the connection
	// has been closed by either side.
	ErrConnClosed = errors.New("connection closed")

	// ErrInvalidMessage is returned for a text message that is not a JSON
	// object.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidURL is returned by Dial for anything but a ws:// or wss://
	// URL with a host.
	ErrInvalidURL = errors.New("invalid websocket url")
)

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
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == ErrMissingHeaders
	case http.StatusConflict:
		return target == ErrDeviceAlreadyConnected
	}
	return false
}

// errorBody is the JSON body the listener writes on rejection.
type errorBody struct {
	Error    string `json:"error"`
	DeviceID string `json:"device_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// parseErrorBody extracts a readable message from a rejection body.
func parseErrorBody(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		if body.Message != "" {
			return body.Error + ": " + body.Message
		}
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
