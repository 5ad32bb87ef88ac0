package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation.
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// saltLen is the length of the random per-store salt.
	saltLen = 16
)

// deriveKey derives a 32-byte encryption key from the passphrase and
// the store's salt using scrypt.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// tokenCipher encrypts stored tokens with AES-GCM. Sealed values are
// stored as [12-byte IV][ciphertext+tag].
type tokenCipher struct {
	gcm cipher.AEAD
}

// newTokenCipher creates a cipher from a 32-byte key.
func newTokenCipher(key []byte) (*tokenCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &tokenCipher{gcm: gcm}, nil
}

// zeroKey overwrites the key material in the given slice. Called
// immediately after the cipher is constructed to limit how long raw
// key bytes stay in memory.
func zeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// seal encrypts a token with a random IV.
func (c *tokenCipher) seal(plaintext []byte) ([]byte, error) {
	iv := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	ciphertext := c.gcm.Seal(nil, iv, plaintext, nil)
	result := make([]byte, len(iv)+len(ciphertext))
	copy(result, iv)
	copy(result[len(iv):], ciphertext)

	return result, nil
}

// open decrypts a sealed token.
func (c *tokenCipher) open(data []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("sealed token too short: %d bytes", len(data))
	}

	plaintext, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}

	return plaintext, nil
}
