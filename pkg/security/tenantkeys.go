/*
Package security provides Vigil's tenant-scoped at-rest encryption (spec.md
§6): every tenant's artifact bytes and any sensitive report fields are
encrypted under a key unique to that tenant, derived from one operator-held
master key rather than stored per-tenant, so there is one secret to rotate
and no per-tenant key table to keep durable.
*/
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// TenantKeyProvider derives a per-tenant AES-256 key from one master key
// using HKDF, keyed additionally by tenant ID so no two tenants ever share
// a derived key even if the master key leaks from one deployment to
// another.
type TenantKeyProvider struct {
	masterKey []byte // 32 bytes
}

// NewTenantKeyProvider wraps a 32-byte master key.
func NewTenantKeyProvider(masterKey []byte) (*TenantKeyProvider, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes for AES-256, got %d", len(masterKey))
	}
	return &TenantKeyProvider{masterKey: masterKey}, nil
}

// DeriveTenantKey returns the 32-byte AES-256 key for tenantID.
func (p *TenantKeyProvider) DeriveTenantKey(tenantID string) ([]byte, error) {
	r := hkdf.New(sha256.New, p.masterKey, nil, []byte("vigil-tenant:"+tenantID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive tenant key for %s: %w", tenantID, err)
	}
	return key, nil
}

// Cipher returns an AES-256-GCM cipher bound to tenantID's derived key.
func (p *TenantKeyProvider) Cipher(tenantID string) (*TenantCipher, error) {
	key, err := p.DeriveTenantKey(tenantID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher for tenant %s: %w", tenantID, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM for tenant %s: %w", tenantID, err)
	}
	return &TenantCipher{gcm: gcm}, nil
}

// TenantCipher encrypts/decrypts data under one tenant's derived key.
type TenantCipher struct {
	gcm cipher.AEAD
}

// Encrypt seals plaintext, prepending the nonce to the returned ciphertext.
func (c *TenantCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext previously produced by Encrypt.
func (c *TenantCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
