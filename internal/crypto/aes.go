package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

var randReader io.Reader = rand.Reader

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
// The ciphertext and the 16-byte tag are returned separately. aad may be
// empty but is always authenticated.
//
// Encrypt panics if the random source ever yields a nonce that was already
// used with the same key.
func Encrypt(plaintext, key, aad []byte) (ciphertext, nonce, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, AESNonceSize)
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	defaultGuard.check(key, nonce)

	ciphertext, tag = seal(gcm, nonce, plaintext, aad)
	return ciphertext, nonce, tag, nil
}

// EncryptWithNonce seals plaintext under a caller-chosen nonce. It exists
// for reproducing known-answer vectors and bypasses the reuse guard; never
// use it for traffic.
func EncryptWithNonce(plaintext, key, nonce, aad []byte) (ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	if len(nonce) != AESNonceSize {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), AESNonceSize)
	}

	ciphertext, tag = seal(gcm, nonce, plaintext, aad)
	return ciphertext, tag, nil
}

func seal(gcm cipher.AEAD, nonce, plaintext, aad []byte) (ciphertext, tag []byte) {
	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - AESTagSize
	return sealed[:split:split], sealed[split:]
}

// Decrypt verifies tag and opens ciphertext. On any authentication failure
// it returns ErrDecryptionFailed and no plaintext.
func Decrypt(ciphertext, nonce, tag, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), AESNonceSize)
	}

	if len(tag) != AESTagSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidTagSize, len(tag), AESTagSize)
	}

	sealed := make([]byte, 0, len(ciphertext)+AESTagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
