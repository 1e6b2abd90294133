package crypto

const (
	// Algorithm is the wire name of the only supported cipher.
	Algorithm = "AES-256-GCM"

	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// HKDFSalt is the salt used when deriving a clipboard key from an ECDH
	// shared secret.
	HKDFSalt = "hypo-clipboard-ecdh"
	// HKDFInfo is the info string used for the same derivation.
	HKDFInfo = "hypo-aes-256-gcm"

	// nonceGuardSize bounds the number of (key, nonce) pairs remembered by
	// the reuse guard.
	nonceGuardSize = 1 << 16
)
