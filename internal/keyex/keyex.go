// Package keyex implements the participant-side key agreement: each side
// generates a P-256 key pair, trades raw public keys through the relay, and
// derives the AES-256-GCM session key with HKDF. The symmetric key never
// crosses the wire.
package keyex

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this protocol. Both sides must use the same
// context string or their keys diverge.
const hkdfInfo = "ECDH-AES-KEY"

// SessionKeyBytes is the derived symmetric key length (AES-256).
const SessionKeyBytes = 32

// KeyPair is one participant's ephemeral key pair for a single session.
type KeyPair struct {
	priv *ecdh.PrivateKey
}

func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyex: generate key pair: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// PublicKey returns the uncompressed public point, base64-encoded for the
// send-public-key message.
func (kp *KeyPair) PublicKey() string {
	return base64.StdEncoding.EncodeToString(kp.priv.PublicKey().Bytes())
}

// ImportPublicKey decodes a peer's base64 raw public key.
func ImportPublicKey(encoded string) (*ecdh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyex: decode public key: %w", err)
	}
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("keyex: import public key: %w", err)
	}
	return pub, nil
}

// DeriveSessionKey computes the ECDH shared secret against the peer's public
// key and stretches it with HKDF-SHA256 (empty salt, fixed info) into the
// AES-256 session key. Both participants arrive at the same key.
func (kp *KeyPair) DeriveSessionKey(peer *ecdh.PublicKey) ([]byte, error) {
	secret, err := kp.priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("keyex: ecdh: %w", err)
	}

	key := make([]byte, SessionKeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("keyex: hkdf: %w", err)
	}
	return key, nil
}
