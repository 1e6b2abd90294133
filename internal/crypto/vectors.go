package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// VectorFile is the shared known-answer file every client implementation
// must reproduce byte for byte.
type VectorFile struct {
	Version   string      `json:"version"`
	Algorithm string      `json:"algorithm"`
	HKDF      *HKDFVector `json:"hkdf,omitempty"`
	Cases     []Vector    `json:"test_cases"`
}

// HKDFVector pins the clipboard key derivation.
type HKDFVector struct {
	Hash string `json:"hash"`
	Salt string `json:"salt_base64"`
	Info string `json:"info_base64"`
	IKM  string `json:"ikm_base64"`
	OKM  string `json:"okm_base64"`
}

// Vector is a single AES-256-GCM known-answer case. All byte fields are
// standard base64.
type Vector struct {
	Name       string `json:"name"`
	Key        string `json:"key_base64"`
	Nonce      string `json:"nonce_base64"`
	AAD        string `json:"aad_base64"`
	Plaintext  string `json:"plaintext_base64"`
	Ciphertext string `json:"ciphertext_base64"`
	Tag        string `json:"tag_base64"`
}

// LoadVectors reads and parses a vector file from disk.
func LoadVectors(path string) (*VectorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	return ParseVectors(data)
}

// ParseVectors parses vector file contents.
func ParseVectors(data []byte) (*VectorFile, error) {
	var vf VectorFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parse vectors: %w", err)
	}
	if vf.Algorithm != "" && vf.Algorithm != Algorithm {
		return nil, fmt.Errorf("parse vectors: unsupported algorithm %q", vf.Algorithm)
	}
	return &vf, nil
}

// Verify re-encrypts the vector, then decrypts it, and reports the first
// divergence from the recorded values.
func (v *Vector) Verify() error {
	fields := make(map[string][]byte, 6)
	for name, s := range map[string]string{
		"key":        v.Key,
		"nonce":      v.Nonce,
		"aad":        v.AAD,
		"plaintext":  v.Plaintext,
		"ciphertext": v.Ciphertext,
		"tag":        v.Tag,
	} {
		b, err := FromBase64(s)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", v.Name, name, err)
		}
		fields[name] = b
	}

	ct, tag, err := EncryptWithNonce(fields["plaintext"], fields["key"], fields["nonce"], fields["aad"])
	if err != nil {
		return fmt.Errorf("%s: encrypt: %w", v.Name, err)
	}
	if !bytes.Equal(ct, fields["ciphertext"]) {
		return fmt.Errorf("%w: %s: ciphertext = %s, want %s", ErrVectorMismatch, v.Name, ToBase64(ct), v.Ciphertext)
	}
	if !bytes.Equal(tag, fields["tag"]) {
		return fmt.Errorf("%w: %s: tag = %s, want %s", ErrVectorMismatch, v.Name, ToBase64(tag), v.Tag)
	}

	pt, err := Decrypt(fields["ciphertext"], fields["nonce"], fields["tag"], fields["key"], fields["aad"])
	if err != nil {
		return fmt.Errorf("%s: decrypt: %w", v.Name, err)
	}
	if !bytes.Equal(pt, fields["plaintext"]) {
		return fmt.Errorf("%w: %s: plaintext differs", ErrVectorMismatch, v.Name)
	}
	return nil
}

// Verify checks the derivation against the recorded output.
func (h *HKDFVector) Verify() error {
	if h.Hash != "" && h.Hash != "SHA-256" {
		return fmt.Errorf("hkdf: unsupported hash %q", h.Hash)
	}

	var salt, info, ikm, okm []byte
	for _, f := range []struct {
		dst *[]byte
		src string
	}{{&salt, h.Salt}, {&info, h.Info}, {&ikm, h.IKM}, {&okm, h.OKM}} {
		b, err := FromBase64(f.src)
		if err != nil {
			return fmt.Errorf("hkdf: %w", err)
		}
		*f.dst = b
	}

	got, err := DeriveKey(ikm, salt, info, len(okm))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, okm) {
		return fmt.Errorf("%w: hkdf: okm = %s, want %s", ErrVectorMismatch, ToBase64(got), h.OKM)
	}
	return nil
}

// Verify checks every case plus the HKDF section if present.
func (vf *VectorFile) Verify() error {
	if vf.HKDF != nil {
		if err := vf.HKDF.Verify(); err != nil {
			return err
		}
	}
	for i := range vf.Cases {
		if err := vf.Cases[i].Verify(); err != nil {
			return err
		}
	}
	return nil
}
