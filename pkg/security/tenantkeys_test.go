package security

import (
	"bytes"
	"testing"
)

func TestNewTenantKeyProvider(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewTenantKeyProvider(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTenantKeyProvider() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && p == nil {
				t.Error("NewTenantKeyProvider() returned nil without error")
			}
		})
	}
}

func TestDeriveTenantKey_DistinctPerTenant(t *testing.T) {
	p, err := NewTenantKeyProvider(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewTenantKeyProvider() error: %v", err)
	}

	keyA, err := p.DeriveTenantKey("tenant-a")
	if err != nil {
		t.Fatalf("DeriveTenantKey(tenant-a) error: %v", err)
	}
	keyB, err := p.DeriveTenantKey("tenant-b")
	if err != nil {
		t.Fatalf("DeriveTenantKey(tenant-b) error: %v", err)
	}

	if len(keyA) != 32 {
		t.Errorf("expected a 32-byte derived key, got %d bytes", len(keyA))
	}
	if bytes.Equal(keyA, keyB) {
		t.Error("expected distinct tenants to derive distinct keys")
	}
}

func TestDeriveTenantKey_Deterministic(t *testing.T) {
	p, err := NewTenantKeyProvider(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewTenantKeyProvider() error: %v", err)
	}

	first, err := p.DeriveTenantKey("tenant-a")
	if err != nil {
		t.Fatalf("DeriveTenantKey() error: %v", err)
	}
	second, err := p.DeriveTenantKey("tenant-a")
	if err != nil {
		t.Fatalf("DeriveTenantKey() error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("expected repeated derivation for the same tenant to be deterministic")
	}
}

func TestTenantCipher_RoundTrip(t *testing.T) {
	p, err := NewTenantKeyProvider(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewTenantKeyProvider() error: %v", err)
	}
	c, err := p.Cipher("tenant-a")
	if err != nil {
		t.Fatalf("Cipher() error: %v", err)
	}

	plaintext := []byte("this is a malware sample's metadata")
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("expected ciphertext to differ from plaintext")
	}

	decrypted, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("expected round-trip to recover original plaintext, got %q", decrypted)
	}
}

func TestTenantCipher_CrossTenantDecryptFails(t *testing.T) {
	p, err := NewTenantKeyProvider(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewTenantKeyProvider() error: %v", err)
	}
	cA, err := p.Cipher("tenant-a")
	if err != nil {
		t.Fatalf("Cipher(tenant-a) error: %v", err)
	}
	cB, err := p.Cipher("tenant-b")
	if err != nil {
		t.Fatalf("Cipher(tenant-b) error: %v", err)
	}

	ciphertext, err := cA.Encrypt([]byte("tenant a's secret"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := cB.Decrypt(ciphertext); err == nil {
		t.Error("expected decrypting tenant A's ciphertext under tenant B's key to fail")
	}
}

func TestTenantCipher_DecryptTooShort(t *testing.T) {
	p, err := NewTenantKeyProvider(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewTenantKeyProvider() error: %v", err)
	}
	c, err := p.Cipher("tenant-a")
	if err != nil {
		t.Fatalf("Cipher() error: %v", err)
	}

	if _, err := c.Decrypt([]byte("x")); err == nil {
		t.Error("expected decrypting a too-short ciphertext to fail")
	}
}
