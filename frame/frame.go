// Package frame implements the length-prefixed binary framing used on
// Hypo sockets.
//
// A frame is a 4-byte big-endian unsigned length followed by that many
// bytes of UTF-8 envelope JSON:
//
//	[len uint32 BE][envelope JSON]
//
// The same framing is applied on LAN and relay connections. Peers that
// send un-framed JSON are tolerated: when the length prefix is not
// plausible for the buffer, the whole buffer is tried as a JSON document.
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 4

	// MaxFrameSize is the largest envelope accepted. A prefix above it is
	// treated as corrupt framing rather than a request for more data.
	MaxFrameSize = 10 * 1024 * 1024
)

var (
	// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrFrameIncomplete means the buffer holds a valid prefix of a frame.
	// It is not a failure: buffer more bytes and decode again.
	ErrFrameIncomplete = errors.New("frame incomplete")
)

// Encode prefixes envelope with its big-endian length.
func Encode(envelope []byte) ([]byte, error) {
	if len(envelope) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, len(envelope), MaxFrameSize)
	}

	out := make([]byte, HeaderSize+len(envelope))
	binary.BigEndian.PutUint32(out, uint32(len(envelope)))
	copy(out[HeaderSize:], envelope)
	return out, nil
}

// Decode extracts the first frame from buf. The returned envelope and rest
// alias buf; rest starts exactly HeaderSize+len(envelope) bytes in.
//
// If the prefix is larger than the ceiling or than the buffer, and the
// whole buffer is a JSON object, that object is returned as the envelope
// with an empty rest.
func Decode(buf []byte) (envelope, rest []byte, err error) {
	if len(buf) < HeaderSize {
		return nil, buf, ErrFrameIncomplete
	}

	n := binary.BigEndian.Uint32(buf)
	available := uint64(len(buf) - HeaderSize)
	if n <= MaxFrameSize && uint64(n) <= available {
		end := HeaderSize + int(n)
		return buf[HeaderSize:end:end], buf[end:], nil
	}

	if doc, ok := directJSON(buf); ok {
		return doc, buf[len(buf):], nil
	}

	if n > MaxFrameSize {
		return nil, buf, fmt.Errorf("%w: prefix %d, max %d", ErrFrameTooLarge, n, MaxFrameSize)
	}
	return nil, buf, ErrFrameIncomplete
}

func directJSON(buf []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	if !json.Valid(trimmed) {
		return nil, false
	}
	return trimmed, true
}
