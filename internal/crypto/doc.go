// Package crypto provides the AEAD primitive for Hypo clipboard envelopes.
//
// # Algorithm Suite
//
//   - AES-256-GCM: 32-byte key, 12-byte random nonce, detached 16-byte tag.
//     The associated data is the sender's device id as UTF-8 bytes.
//
//   - HKDF-SHA-256 (RFC 5869): derives the AES key from an ECDH shared
//     secret with salt [HKDFSalt] and info [HKDFInfo].
//
// # Nonces
//
// [Encrypt] draws every nonce from crypto/rand and records it in a bounded
// LRU keyed by a salted key fingerprint. Seeing the same pair twice is a
// fatal programming error and panics. [EncryptWithNonce] skips the guard
// and is meant for known-answer vectors only.
//
// # Errors
//
// Length checks on key, nonce and tag report which input was wrong. A tag
// that fails to verify always yields the single opaque [ErrDecryptionFailed]
// so callers cannot distinguish a wrong key from tampering.
//
// # Vectors
//
// [LoadVectors] reads the shared JSON vector file. Android, macOS and this
// package must all pass [VectorFile.Verify] against the same file.
package crypto
