// Package keystore maps device identifiers to 32-byte symmetric keys.
//
// Identifiers are stored exactly as written. Variants are handled at lookup
// time: a [MemoryStore] matches exactly and then case-insensitively, and a
// [Resolver] adds the explicit "android-" prefix retry on top.
package keystore

import (
	"bytes"
	"strings"
	"sync"
)

// Lookup is the read side of a key store.
type Lookup interface {
	// Get returns a copy of the key filed under deviceID.
	Get(deviceID string) ([]byte, bool)
}

// MemoryStore is a concurrency-safe in-memory key store.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string][]byte)}
}

// Put files a copy of key under deviceID, replacing and zeroing any
// previous key.
func (s *MemoryStore) Put(deviceID string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.keys[deviceID]; ok {
		clear(old)
	}
	s.keys[deviceID] = bytes.Clone(key)
}

// Get returns a copy of the key for deviceID. An exact match wins over a
// case-insensitive one. When several ids differ from deviceID only in case,
// the key of the lexically smallest id is returned.
func (s *MemoryStore) Get(deviceID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.keys[deviceID]; ok {
		return bytes.Clone(key), true
	}
	match, found := "", false
	for id := range s.keys {
		if strings.EqualFold(id, deviceID) && (!found || id < match) {
			match, found = id, true
		}
	}
	if !found {
		return nil, false
	}
	return bytes.Clone(s.keys[match]), true
}

// Delete removes and zeroes the key stored under exactly deviceID.
func (s *MemoryStore) Delete(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[deviceID]; ok {
		clear(key)
		delete(s.keys, deviceID)
	}
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// IDs returns the stored identifiers in no particular order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	return ids
}
