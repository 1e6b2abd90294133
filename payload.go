package hypo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"github.com/callzhang/hypo/internal/crypto"
)

// ContentType tags the clipboard variant.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentLink  ContentType = "link"
)

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentLink:
		return true
	}
	return false
}

// ClipboardPayload is the plaintext clipboard content carried inside an
// envelope. Data holds the raw bytes: UTF-8 text, image bytes, or the URL.
type ClipboardPayload struct {
	ContentType ContentType
	Data        []byte
	Metadata    map[string]string
}

// NewTextPayload returns a text payload.
func NewTextPayload(text string) *ClipboardPayload {
	return &ClipboardPayload{
		ContentType: ContentText,
		Data:        []byte(text),
		Metadata:    map[string]string{},
	}
}

// NewImagePayload returns an image payload. format is e.g. "png" or "jpeg".
func NewImagePayload(image []byte, format string) *ClipboardPayload {
	return &ClipboardPayload{
		ContentType: ContentImage,
		Data:        bytes.Clone(image),
		Metadata: map[string]string{
			"format": format,
			"size":   strconv.Itoa(len(image)),
		},
	}
}

// NewLinkPayload returns a link payload.
func NewLinkPayload(url string) *ClipboardPayload {
	return &ClipboardPayload{
		ContentType: ContentLink,
		Data:        []byte(url),
		Metadata:    map[string]string{"url": url},
	}
}

// Text returns the content as a string for text and link payloads, and ""
// for images.
func (p *ClipboardPayload) Text() string {
	if p.ContentType == ContentImage {
		return ""
	}
	return string(p.Data)
}

// payloadWire fixes the canonical key order. Field order here is part of
// the protocol: content_type, data, data_base64, metadata.
type payloadWire struct {
	ContentType string            `json:"content_type"`
	Data        string            `json:"data"`
	DataBase64  string            `json:"data_base64"`
	Metadata    map[string]string `json:"metadata"`
}

// MarshalCanonical returns the exact bytes that are AEAD-encrypted: compact
// UTF-8 JSON in canonical key order, metadata keys sorted, no HTML
// escaping. data and data_base64 always carry the same base64 text.
func (p *ClipboardPayload) MarshalCanonical() ([]byte, error) {
	if !p.ContentType.Valid() {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidPayload, p.ContentType)
	}

	encoded := crypto.ToBase64(p.Data)
	wire := payloadWire{
		ContentType: string(p.ContentType),
		Data:        encoded,
		DataBase64:  encoded,
		Metadata:    p.Metadata,
	}
	if wire.Metadata == nil {
		wire.Metadata = map[string]string{}
	}
	return marshalCompact(wire)
}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (p *ClipboardPayload) MarshalJSON() ([]byte, error) {
	return p.MarshalCanonical()
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ClipboardPayload) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePayload(data)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ParsePayload decodes payload JSON in any key order. data_base64 is
// preferred; the legacy data field is used when it is absent. If both are
// present they must agree.
func ParsePayload(data []byte) (*ClipboardPayload, error) {
	var wire struct {
		ContentType *string           `json:"content_type"`
		Data        *string           `json:"data"`
		DataBase64  *string           `json:"data_base64"`
		Metadata    map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if wire.ContentType == nil {
		return nil, fmt.Errorf("%w: missing content_type", ErrInvalidPayload)
	}
	ct := ContentType(*wire.ContentType)
	if !ct.Valid() {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidPayload, ct)
	}

	var encoded string
	switch {
	case wire.DataBase64 != nil && wire.Data != nil && *wire.DataBase64 != *wire.Data:
		return nil, fmt.Errorf("%w: data and data_base64 differ", ErrInvalidPayload)
	case wire.DataBase64 != nil:
		encoded = *wire.DataBase64
	case wire.Data != nil:
		encoded = *wire.Data
	default:
		return nil, fmt.Errorf("%w: missing data_base64", ErrInvalidPayload)
	}

	raw, err := crypto.FromBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: data_base64: %v", ErrInvalidPayload, err)
	}

	p := &ClipboardPayload{
		ContentType: ct,
		Data:        raw,
		Metadata:    maps.Clone(wire.Metadata),
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	return p, nil
}

// marshalCompact encodes v without HTML escaping or a trailing newline.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
