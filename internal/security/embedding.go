package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidCiphertext wird bei beschädigten oder manipulierten Embeddings zurückgegeben
var ErrInvalidCiphertext = errors.New("invalid embedding ciphertext")

// EmbeddingCipher verschlüsselt Embeddings (float32, little endian) mit XChaCha20-Poly1305
type EmbeddingCipher struct {
	aead cipher.AEAD
}

// NewEmbeddingCipher erwartet einen base64-kodierten 32-Byte-Schlüssel
func NewEmbeddingCipher(encodedKey string) (*EmbeddingCipher, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode embedding key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("embedding key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCipher{aead: aead}, nil
}

// GenerateKey erzeugt einen neuen zufälligen Schlüssel in base64
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt liefert base64(nonce||ciphertext)
func (c *EmbeddingCipher) Encrypt(embedding []float32) (string, error) {
	if len(embedding) == 0 {
		return "", errors.New("empty embedding")
	}
	plain := make([]byte, 4*len(embedding))
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(plain[4*i:], math.Float32bits(f))
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt kehrt Encrypt um
func (c *EmbeddingCipher) Decrypt(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(plain) == 0 || len(plain)%4 != 0 {
		return nil, ErrInvalidCiphertext
	}

	out := make([]float32, len(plain)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(plain[4*i:]))
	}
	return out, nil
}
