package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/callzhang/hypo/internal/crypto"
)

// File is the on-disk key file layout. JSON is accepted as well since it
// parses as YAML.
//
//	keys:
//	  - device_id: c7bd7e23-b5c1-4dfd-bb62-6a3b7c880760
//	    key_base64: AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=
type File struct {
	Keys []Entry `yaml:"keys" json:"keys"`
}

// Entry is a single device key. Exactly one of KeyBase64 and KeyHex is set.
type Entry struct {
	DeviceID  string `yaml:"device_id" json:"device_id"`
	KeyBase64 string `yaml:"key_base64,omitempty" json:"key_base64,omitempty"`
	KeyHex    string `yaml:"key_hex,omitempty" json:"key_hex,omitempty"`
}

// Key decodes the entry's key and checks its length.
func (e Entry) Key() ([]byte, error) {
	var (
		key []byte
		err error
	)
	switch {
	case e.KeyBase64 != "" && e.KeyHex != "":
		return nil, errors.New("both key_base64 and key_hex set")
	case e.KeyBase64 != "":
		key, err = crypto.FromBase64(e.KeyBase64)
	case e.KeyHex != "":
		key, err = hex.DecodeString(e.KeyHex)
	default:
		return nil, errors.New("no key")
	}
	if err != nil {
		return nil, err
	}
	if len(key) != crypto.AESKeySize {
		crypto.Zero(key)
		return nil, fmt.Errorf("key is %d bytes, want %d", len(key), crypto.AESKeySize)
	}
	return key, nil
}

// LoadFile reads a key file into a new MemoryStore.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return Parse(data)
}

// Parse decodes key file contents into a new MemoryStore. Every bad entry
// is reported.
func Parse(data []byte) (*MemoryStore, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}

	store := NewMemoryStore()
	var errs []error
	for i, e := range f.Keys {
		if e.DeviceID == "" {
			errs = append(errs, fmt.Errorf("keys[%d]: missing device_id", i))
			continue
		}
		key, err := e.Key()
		if err != nil {
			errs = append(errs, fmt.Errorf("keys[%d] (%s): %w", i, e.DeviceID, err))
			continue
		}
		store.Put(e.DeviceID, key)
		crypto.Zero(key)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse key file: %w", errors.Join(errs...))
	}
	return store, nil
}
