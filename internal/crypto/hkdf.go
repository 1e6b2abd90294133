package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key using HKDF-SHA-256.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}

// DeriveClipboardKey turns a 32-byte ECDH shared secret into the AES key
// used for clipboard envelopes.
func DeriveClipboardKey(sharedSecret []byte) ([]byte, error) {
	return DeriveKey(sharedSecret, []byte(HKDFSalt), []byte(HKDFInfo), AESKeySize)
}
