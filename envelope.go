package hypo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/callzhang/hypo/internal/crypto"
)

const (
	// ProtocolVersion is the only envelope version accepted.
	ProtocolVersion = "1.0"

	// Algorithm is the only encryption algorithm accepted.
	Algorithm = crypto.Algorithm
)

// MessageType is the envelope "type" field.
type MessageType string

// TypeClipboard is the only message type carried by the core protocol.
const TypeClipboard MessageType = "clipboard"

// SyncEnvelope is the outer message. Its structure is always plaintext;
// the clipboard content lives in Payload.Ciphertext.
type SyncEnvelope struct {
	ID        uuid.UUID
	Timestamp time.Time
	Version   string
	Type      MessageType
	Payload   EncryptedPayload
}

// EncryptedPayload carries routing metadata and the sealed clipboard
// content.
type EncryptedPayload struct {
	ContentType    ContentType
	Ciphertext     []byte
	DeviceID       string
	DeviceName     string
	DevicePlatform string
	// Target is the receiving device id. Nil means broadcast.
	Target     *string
	Encryption EncryptionMetadata
}

// EncryptionMetadata describes how Ciphertext was sealed. Empty Nonce or
// Tag marks a plaintext envelope.
type EncryptionMetadata struct {
	Algorithm string
	Nonce     []byte
	Tag       []byte
}

// NewEnvelope builds a fresh clipboard envelope with a random id and the
// current UTC time. An empty algorithm is set to Algorithm.
func NewEnvelope(payload EncryptedPayload) *SyncEnvelope {
	return newEnvelopeAt(payload, time.Now())
}

func newEnvelopeAt(payload EncryptedPayload, now time.Time) *SyncEnvelope {
	if payload.Encryption.Algorithm == "" {
		payload.Encryption.Algorithm = Algorithm
	}
	return &SyncEnvelope{
		ID:        uuid.New(),
		Timestamp: now.UTC(),
		Version:   ProtocolVersion,
		Type:      TypeClipboard,
		Payload:   payload,
	}
}

// IsPlaintext reports whether the envelope skipped AEAD. Either an empty
// nonce or an empty tag is enough.
func (e *SyncEnvelope) IsPlaintext() bool {
	return len(e.Payload.Encryption.Nonce) == 0 || len(e.Payload.Encryption.Tag) == 0
}

// IsBroadcast reports whether the envelope has no target device.
func (e *SyncEnvelope) IsBroadcast() bool {
	return e.Payload.Target == nil
}

type envelopeJSON struct {
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version"`
	Type      string       `json:"type"`
	Payload   *payloadJSON `json:"payload"`
}

type payloadJSON struct {
	ContentType    *string         `json:"content_type"`
	Ciphertext     *string         `json:"ciphertext,omitempty"`
	Data           *string         `json:"data,omitempty"`
	DeviceID       *string         `json:"device_id"`
	DeviceName     string          `json:"device_name"`
	DevicePlatform string          `json:"device_platform"`
	Target         *string         `json:"target"`
	Encryption     *encryptionJSON `json:"encryption"`
}

type encryptionJSON struct {
	Algorithm string  `json:"algorithm"`
	Nonce     *string `json:"nonce"`
	Tag       *string `json:"tag"`
}

// MarshalEnvelope serializes e as compact JSON. A nil Target is written as
// null. The algorithm must be set; NewEnvelope fills it in.
func MarshalEnvelope(e *SyncEnvelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	ct := string(e.Payload.ContentType)
	ciphertext := crypto.ToBase64(e.Payload.Ciphertext)
	deviceID := e.Payload.DeviceID
	nonce := crypto.ToBase64(e.Payload.Encryption.Nonce)
	tag := crypto.ToBase64(e.Payload.Encryption.Tag)

	return marshalCompact(envelopeJSON{
		ID:        e.ID.String(),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Version:   e.Version,
		Type:      string(e.Type),
		Payload: &payloadJSON{
			ContentType:    &ct,
			Ciphertext:     &ciphertext,
			DeviceID:       &deviceID,
			DeviceName:     e.Payload.DeviceName,
			DevicePlatform: e.Payload.DevicePlatform,
			Target:         e.Payload.Target,
			Encryption: &encryptionJSON{
				Algorithm: e.Payload.Encryption.Algorithm,
				Nonce:     &nonce,
				Tag:       &tag,
			},
		},
	})
}

func (e *SyncEnvelope) validate() error {
	switch {
	case e.ID == uuid.Nil:
		return fieldError("id", ErrInvalidID)
	case e.Timestamp.IsZero():
		return fieldError("timestamp", ErrInvalidTimestamp)
	case e.Version != ProtocolVersion:
		return fieldError("version", fmt.Errorf("%w: %q", ErrUnsupportedVersion, e.Version))
	case e.Type != TypeClipboard:
		return fieldError("type", fmt.Errorf("%w: %q", ErrUnknownType, e.Type))
	case !e.Payload.ContentType.Valid():
		return fieldError("payload.content_type", fmt.Errorf("%w: %q", ErrInvalidPayload, e.Payload.ContentType))
	case e.Payload.DeviceID == "":
		return fieldError("payload.device_id", ErrMissingField)
	case e.Payload.Target != nil && *e.Payload.Target == "":
		return fieldError("payload.target", fmt.Errorf("%w: empty target, use nil for broadcast", ErrMissingField))
	}

	enc := e.Payload.Encryption
	switch enc.Algorithm {
	case Algorithm:
	case "":
		return fieldError("payload.encryption.algorithm", ErrMissingField)
	default:
		return fieldError("payload.encryption.algorithm", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, enc.Algorithm))
	}
	if !e.IsPlaintext() {
		if len(enc.Nonce) != crypto.AESNonceSize {
			return fieldError("payload.encryption.nonce", ErrInvalidNonce)
		}
		if len(enc.Tag) != crypto.AESTagSize {
			return fieldError("payload.encryption.tag", ErrInvalidTag)
		}
	}
	return nil
}

// UnmarshalEnvelope parses envelope JSON in any key order. Every failure
// is an *EnvelopeError naming the offending field.
func UnmarshalEnvelope(data []byte) (*SyncEnvelope, error) {
	var wire envelopeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &EnvelopeError{Err: err}
	}

	id, err := uuid.Parse(wire.ID)
	if err != nil || id == uuid.Nil {
		return nil, fieldError("id", fmt.Errorf("%w: %q", ErrInvalidID, wire.ID))
	}

	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return nil, fieldError("timestamp", fmt.Errorf("%w: %q", ErrInvalidTimestamp, wire.Timestamp))
	}

	if wire.Version != ProtocolVersion {
		return nil, fieldError("version", fmt.Errorf("%w: %q", ErrUnsupportedVersion, wire.Version))
	}

	if MessageType(wire.Type) != TypeClipboard {
		return nil, fieldError("type", fmt.Errorf("%w: %q", ErrUnknownType, wire.Type))
	}

	if wire.Payload == nil {
		return nil, fieldError("payload", ErrMissingField)
	}
	payload, err := decodePayloadJSON(wire.Payload)
	if err != nil {
		return nil, err
	}

	return &SyncEnvelope{
		ID:        id,
		Timestamp: ts.UTC(),
		Version:   wire.Version,
		Type:      TypeClipboard,
		Payload:   *payload,
	}, nil
}

func decodePayloadJSON(p *payloadJSON) (*EncryptedPayload, error) {
	if p.ContentType == nil {
		return nil, fieldError("payload.content_type", ErrMissingField)
	}
	ct := ContentType(*p.ContentType)
	if !ct.Valid() {
		return nil, fieldError("payload.content_type", fmt.Errorf("%w: %q", ErrInvalidPayload, ct))
	}

	if p.DeviceID == nil || *p.DeviceID == "" {
		return nil, fieldError("payload.device_id", ErrMissingField)
	}

	field, encoded := "payload.ciphertext", p.Ciphertext
	if encoded == nil {
		field, encoded = "payload.data", p.Data
	}
	if encoded == nil {
		return nil, fieldError("payload.ciphertext", ErrMissingField)
	}
	ciphertext, err := crypto.FromBase64(*encoded)
	if err != nil {
		return nil, fieldError(field, fmt.Errorf("%w: %v", ErrInvalidBase64, err))
	}

	if p.Encryption == nil {
		return nil, fieldError("payload.encryption", ErrMissingField)
	}
	enc, err := decodeEncryption(p.Encryption)
	if err != nil {
		return nil, err
	}

	// Some peers send "" instead of null for broadcast.
	var target *string
	if p.Target != nil && *p.Target != "" {
		t := *p.Target
		target = &t
	}

	return &EncryptedPayload{
		ContentType:    ct,
		Ciphertext:     ciphertext,
		DeviceID:       *p.DeviceID,
		DeviceName:     p.DeviceName,
		DevicePlatform: p.DevicePlatform,
		Target:         target,
		Encryption:     *enc,
	}, nil
}

func decodeEncryption(e *encryptionJSON) (*EncryptionMetadata, error) {
	algorithm := e.Algorithm
	if algorithm == "" {
		algorithm = Algorithm
	}
	if algorithm != Algorithm {
		return nil, fieldError("payload.encryption.algorithm", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, e.Algorithm))
	}

	if e.Nonce == nil {
		return nil, fieldError("payload.encryption.nonce", ErrMissingField)
	}
	if e.Tag == nil {
		return nil, fieldError("payload.encryption.tag", ErrMissingField)
	}

	nonce, err := decodeOptional(*e.Nonce)
	if err != nil {
		return nil, fieldError("payload.encryption.nonce", fmt.Errorf("%w: %v", ErrInvalidBase64, err))
	}
	tag, err := decodeOptional(*e.Tag)
	if err != nil {
		return nil, fieldError("payload.encryption.tag", fmt.Errorf("%w: %v", ErrInvalidBase64, err))
	}

	// Lengths only matter once both are present; either one empty is
	// plaintext mode.
	if len(nonce) > 0 && len(tag) > 0 {
		if len(nonce) != crypto.AESNonceSize {
			return nil, fieldError("payload.encryption.nonce",
				fmt.Errorf("%w: %d bytes, want %d", ErrInvalidNonce, len(nonce), crypto.AESNonceSize))
		}
		if len(tag) != crypto.AESTagSize {
			return nil, fieldError("payload.encryption.tag",
				fmt.Errorf("%w: %d bytes, want %d", ErrInvalidTag, len(tag), crypto.AESTagSize))
		}
	}

	return &EncryptionMetadata{Algorithm: algorithm, Nonce: nonce, Tag: tag}, nil
}

func decodeOptional(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return crypto.FromBase64(s)
}
