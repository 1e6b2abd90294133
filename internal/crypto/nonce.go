package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// nonceGuard remembers recently used (key, nonce) pairs. Keys are stored
// as a salted fingerprint so the cache never holds key material.
type nonceGuard struct {
	salt  []byte
	cache *lru.Cache
}

var defaultGuard = newNonceGuard(nonceGuardSize)

func newNonceGuard(size int) *nonceGuard {
	cache, err := lru.New(size)
	if err != nil {
		panic(fmt.Sprintf("crypto: nonce guard: %v", err))
	}

	salt := make([]byte, sha256.Size)
	if _, err := rand.Read(salt); err != nil {
		panic(fmt.Sprintf("crypto: nonce guard salt: %v", err))
	}

	return &nonceGuard{salt: salt, cache: cache}
}

func (g *nonceGuard) fingerprint(key, nonce []byte) string {
	mac := hmac.New(sha256.New, g.salt)
	mac.Write(key)
	sum := mac.Sum(nil)
	return string(sum[:16]) + string(nonce)
}

// check records the pair and panics if it was already present. Reusing a
// GCM nonce under one key leaks the authentication key, so there is no
// recoverable path.
func (g *nonceGuard) check(key, nonce []byte) {
	if seen, _ := g.cache.ContainsOrAdd(g.fingerprint(key, nonce), struct{}{}); seen {
		panic("crypto: AES-GCM nonce reused with the same key")
	}
}
