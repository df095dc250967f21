// Package crypto implements the gateway's symmetric vault for token payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/errors"
)

const nonceSize = 12

// Vault seals and opens token records with AES-256-GCM. A fresh random nonce
// is drawn per call; the key is fixed for the process lifetime.
type Vault struct {
	aead cipher.AEAD
}

var _ service.CryptoService = (*Vault)(nil)

// NewVault derives a 32-byte key from the configured material with SHA-256
// and prepares the AEAD. Key material shorter than 16 bytes is rejected at
// config validation, before this is reached.
func NewVault(keyMaterial string) (*Vault, error) {
	if keyMaterial == "" {
		return nil, fmt.Errorf("crypto: empty key material")
	}

	key := sha256.Sum256([]byte(keyMaterial))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt serializes the record and seals it under a random nonce.
func (v *Vault) Encrypt(record *models.TokenRecord) (*models.EncryptedBlob, error) {
	if record == nil {
		return nil, errors.ErrInvalidTokenData("nil token record")
	}

	plaintext, err := json.Marshal(record)
	if err != nil {
		return nil, errors.ErrServer("serialize token record").WithCause(err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.ErrServer("draw nonce").WithCause(err)
	}

	return &models.EncryptedBlob{
		Nonce:      nonce,
		Ciphertext: v.aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt opens a blob. Any failure, whether tampering, a wrong key, or
// malformed input, collapses to a single decryption error so callers can
// treat it uniformly as "no token present".
func (v *Vault) Decrypt(blob *models.EncryptedBlob) (*models.TokenRecord, error) {
	if blob == nil || len(blob.Nonce) != nonceSize || len(blob.Ciphertext) == 0 {
		return nil, errors.ErrDecryptionFailed("malformed blob")
	}

	plaintext, err := v.aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, errors.ErrDecryptionFailed("open ciphertext").WithCause(err)
	}

	var record models.TokenRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, errors.ErrDecryptionFailed("decode token record").WithCause(err)
	}

	return &record, nil
}
