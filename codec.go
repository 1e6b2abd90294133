package hypo

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/callzhang/hypo/internal/crypto"
)

// Device identifies the local side of a conversation.
type Device struct {
	ID       string
	Name     string
	Platform string
}

// KeyResolver finds the symmetric key for a device id. The returned slice
// is owned by the caller, which zeroes it after use. *keystore.Resolver
// implements it.
type KeyResolver interface {
	Resolve(deviceID string) ([]byte, error)
}

// Recipient says which key seals a message and where it is routed.
//
// With symmetric pairing keys, the key for talking to peer B is filed
// under B's id on this device, and B finds the same key under this
// device's id. KeyID is therefore usually the peer's id.
type Recipient struct {
	KeyID  string
	Target *string
}

// To addresses a single peer, sealing with the key filed under its id.
func To(peerID string) Recipient {
	target := peerID
	return Recipient{KeyID: peerID, Target: &target}
}

// Broadcast seals with the key filed under keyID and sets no target.
func Broadcast(keyID string) Recipient {
	return Recipient{KeyID: keyID}
}

// Codec seals clipboard payloads into envelopes and opens them again. It
// holds no per-message state and is safe for concurrent use.
type Codec struct {
	local          Device
	resolver       KeyResolver
	logger         *slog.Logger
	allowPlaintext bool
	now            func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithCodecLogger sets the codec logger. Key bytes and plaintext are
// never logged.
func WithCodecLogger(l *slog.Logger) CodecOption {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPlaintextAllowed controls whether Open accepts plaintext envelopes.
// Default: true
func WithPlaintextAllowed(allow bool) CodecOption {
	return func(c *Codec) {
		c.allowPlaintext = allow
	}
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec returns a Codec sending as local and resolving keys through
// resolver.
func NewCodec(local Device, resolver KeyResolver, opts ...CodecOption) *Codec {
	c := &Codec{
		local:          local,
		resolver:       resolver,
		logger:         slog.New(slog.DiscardHandler),
		allowPlaintext: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Local returns the device the codec seals as.
func (c *Codec) Local() Device {
	return c.local
}

// Seal encrypts p for to. The AAD is the local device id.
func (c *Codec) Seal(p *ClipboardPayload, to Recipient) (*SyncEnvelope, error) {
	key, err := c.resolver.Resolve(to.KeyID)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	defer crypto.Zero(key)

	env, err := sealAt(p, key, c.local, to.Target, c.now())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("sealed envelope",
		slog.String("id", env.ID.String()),
		slog.String("device_id", c.local.ID),
		slog.String("content_type", string(p.ContentType)),
		slog.Int("ciphertext_bytes", len(env.Payload.Ciphertext)),
		slog.Bool("broadcast", env.IsBroadcast()))
	return env, nil
}

// SealPlaintext wraps p without encryption. Only for peers that have not
// paired yet.
func (c *Codec) SealPlaintext(p *ClipboardPayload, target *string) (*SyncEnvelope, error) {
	plaintext, err := p.MarshalCanonical()
	if err != nil {
		return nil, err
	}
	if c.local.ID == "" {
		return nil, fieldError("payload.device_id", ErrMissingField)
	}

	env := newEnvelopeAt(newPayload(c.local, p.ContentType, plaintext, target), c.now())
	c.logger.Warn("sealed plaintext envelope",
		slog.String("id", env.ID.String()),
		slog.String("content_type", string(p.ContentType)))
	return env, nil
}

// Open decrypts env with the key resolved from its declared device id.
// Plaintext envelopes are decoded directly with no AEAD attempt.
func (c *Codec) Open(env *SyncEnvelope) (*ClipboardPayload, error) {
	if env.IsPlaintext() {
		if !c.allowPlaintext {
			return nil, ErrPlaintextRejected
		}
		return openPlaintext(env)
	}

	deviceID := env.Payload.DeviceID
	key, err := c.resolver.Resolve(deviceID)
	if err != nil {
		c.logger.Warn("no key for sender",
			slog.String("id", env.ID.String()),
			slog.String("device_id", deviceID))
		return nil, &DecryptionError{DeviceID: deviceID, Err: err}
	}
	defer crypto.Zero(key)

	p, err := OpenWithKey(env, key)
	if err != nil {
		c.logger.Warn("open failed",
			slog.String("id", env.ID.String()),
			slog.String("device_id", deviceID),
			slog.Any("error", err))
		return nil, err
	}
	return p, nil
}

func newPayload(sender Device, ct ContentType, ciphertext []byte, target *string) EncryptedPayload {
	return EncryptedPayload{
		ContentType:    ct,
		Ciphertext:     ciphertext,
		DeviceID:       sender.ID,
		DeviceName:     sender.Name,
		DevicePlatform: sender.Platform,
		Target:         cloneTarget(target),
		Encryption:     EncryptionMetadata{Algorithm: Algorithm},
	}
}

// SealWithKey encrypts p under key as sender. It takes every input
// explicitly and touches no key store.
func SealWithKey(p *ClipboardPayload, key []byte, sender Device, target *string) (*SyncEnvelope, error) {
	return sealAt(p, key, sender, target, time.Now())
}

func sealAt(p *ClipboardPayload, key []byte, sender Device, target *string, now time.Time) (*SyncEnvelope, error) {
	if sender.ID == "" {
		return nil, fieldError("payload.device_id", ErrMissingField)
	}

	plaintext, err := p.MarshalCanonical()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(plaintext)

	ciphertext, nonce, tag, err := crypto.Encrypt(plaintext, key, []byte(sender.ID))
	if err != nil {
		return nil, wrapCryptoError(err)
	}

	payload := newPayload(sender, p.ContentType, ciphertext, target)
	payload.Encryption.Nonce = nonce
	payload.Encryption.Tag = tag
	return newEnvelopeAt(payload, now), nil
}

// OpenWithKey opens env under key. The AAD is rebuilt from the envelope's
// own device_id, exactly as received.
func OpenWithKey(env *SyncEnvelope, key []byte) (*ClipboardPayload, error) {
	if env.IsPlaintext() {
		return openPlaintext(env)
	}

	enc := env.Payload.Encryption
	plaintext, err := crypto.Decrypt(env.Payload.Ciphertext, enc.Nonce, enc.Tag, key, []byte(env.Payload.DeviceID))
	if err != nil {
		err = wrapCryptoError(err)
		var envErr *EnvelopeError
		if errors.As(err, &envErr) {
			return nil, err
		}
		return nil, &DecryptionError{DeviceID: env.Payload.DeviceID, Err: err}
	}
	defer crypto.Zero(plaintext)

	p, err := ParsePayload(plaintext)
	if err != nil {
		return nil, fieldError("payload.ciphertext", err)
	}
	return p, nil
}

func openPlaintext(env *SyncEnvelope) (*ClipboardPayload, error) {
	p, err := ParsePayload(env.Payload.Ciphertext)
	if err != nil {
		return nil, fieldError("payload.ciphertext", err)
	}
	return p, nil
}

func cloneTarget(target *string) *string {
	if target == nil || *target == "" {
		return nil
	}
	t := *target
	return &t
}
