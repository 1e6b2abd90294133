package crypto

import "errors"

var (
	// ErrDecryptionFailed is returned when the tag does not verify. It
	// carries no detail on purpose.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidTagSize is returned when the authentication tag size is invalid.
	ErrInvalidTagSize = errors.New("invalid tag size")

	// ErrVectorMismatch is returned when a known-answer vector does not
	// reproduce.
	ErrVectorMismatch = errors.New("test vector mismatch")
)
