/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MasterKey is a JWK-formatted symmetric master encryption key (MEK).
// Master keys rotate; the active key id comes from the service config, and
// unwrap keeps working for any key id still present in the key set so
// secrets wrapped under older MEKs stay readable.
type MasterKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	// K is the base64url-encoded key material.
	K string `json:"k"`
}

func (m *MasterKey) material() ([]byte, error) {
	if m.Kty != "oct" {
		return nil, fmt.Errorf("unsupported key type %q for MEK %s", m.Kty, m.Kid)
	}
	return base64.RawURLEncoding.DecodeString(m.K)
}

// KeySet holds every MEK the service has ever used, keyed by kid.
type KeySet struct {
	Keys []MasterKey `json:"keys"`
}

func ParseKeySet(data []byte) (*KeySet, error) {
	var set KeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("invalid MEK key set: %v", err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("MEK key set is empty")
	}
	return &set, nil
}

func (s *KeySet) find(kid string) (*MasterKey, error) {
	for i := range s.Keys {
		if s.Keys[i].Kid == kid {
			return &s.Keys[i], nil
		}
	}
	return nil, fmt.Errorf("MEK %q not present in key set", kid)
}

// Envelope wraps per-user KEKs under a MEK and encrypts secret payloads
// under the KEK. Only ciphertext is ever stored.
type Envelope struct {
	keys      *KeySet
	activeKid string
}

func NewEnvelope(keys *KeySet, activeKid string) (*Envelope, error) {
	if _, err := keys.find(activeKid); err != nil {
		return nil, err
	}
	return &Envelope{keys: keys, activeKid: activeKid}, nil
}

// wrapKey derives the actual AES key for KEK wrapping from the MEK material
// and the user id, so a leaked wrap key compromises a single user only.
func (e *Envelope) wrapKey(kid, user string) ([]byte, error) {
	mek, err := e.keys.find(kid)
	if err != nil {
		return nil, err
	}
	material, err := mek.material()
	if err != nil {
		return nil, err
	}
	reader := hkdf.New(sha256.New, material, []byte(user), []byte("osmo-kek-wrap"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewKEK generates a fresh 256-bit key-encryption key for a user.
func NewKEK() ([]byte, error) {
	kek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, kek); err != nil {
		return nil, err
	}
	return kek, nil
}

// WrapKEK returns the ciphertext of kek under the active MEK plus the MEK id
// that must be stored alongside it.
func (e *Envelope) WrapKEK(user string, kek []byte) (wrapped string, kid string, err error) {
	key, err := e.wrapKey(e.activeKid, user)
	if err != nil {
		return "", "", err
	}
	wrapped, err = Encrypt(kek, key)
	return wrapped, e.activeKid, err
}

// UnwrapKEK opens a wrapped KEK under whichever MEK id it was stored with.
func (e *Envelope) UnwrapKEK(user, wrapped, kid string) ([]byte, error) {
	key, err := e.wrapKey(kid, user)
	if err != nil {
		return nil, err
	}
	return Decrypt(wrapped, key)
}

// EncryptSecret seals a secret value under the user's KEK.
func (e *Envelope) EncryptSecret(kek, plaintext []byte) (string, error) {
	return Encrypt(plaintext, kek)
}

// DecryptSecret opens a secret value with the user's KEK.
func (e *Envelope) DecryptSecret(kek []byte, ciphertext string) ([]byte, error) {
	return Decrypt(ciphertext, kek)
}
