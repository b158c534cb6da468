package keyex

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// IVBytes is the per-chunk nonce length. Payloads shorter than this cannot
// carry an IV and are treated as plaintext by receivers.
const IVBytes = 16

// Cipher seals and opens chunk payloads with the session key. Each Seal draws
// a fresh random IV and prepends it to the ciphertext, so the wire payload is
// IV followed by the GCM output.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(sessionKey []byte) (*Cipher, error) {
	if len(sessionKey) != SessionKeyBytes {
		return nil, fmt.Errorf("keyex: session key must be %d bytes, got %d", SessionKeyBytes, len(sessionKey))
	}
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("keyex: aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVBytes)
	if err != nil {
		return nil, fmt.Errorf("keyex: gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	iv := make([]byte, IVBytes)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("keyex: iv: %w", err)
	}
	return c.aead.Seal(iv, iv, plaintext, nil), nil
}

func (c *Cipher) Open(payload []byte) ([]byte, error) {
	if len(payload) <= IVBytes {
		return nil, fmt.Errorf("keyex: payload too short to carry an iv")
	}
	iv, ciphertext := payload[:IVBytes], payload[IVBytes:]
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keyex: decrypt: %w", err)
	}
	return plaintext, nil
}
