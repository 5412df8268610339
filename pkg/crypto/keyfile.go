package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// KeyFile is the on-disk JSON format for a signing key. The keypair_hex
// field name is a legacy label; it holds the 32-byte secret only.
type KeyFile struct {
	KeypairHex string `json:"keypair_hex"`
	PublicHex  string `json:"public_hex"`
}

// SaveKeyFile writes a signer's key material to path with 0600 permissions.
func SaveKeyFile(path string, signer *Ed25519Signer) error {
	kf := KeyFile{
		KeypairHex: hex.EncodeToString(signer.Secret()),
		PublicHex:  hex.EncodeToString(signer.PublicKey()),
	}
	data, err := json.MarshalIndent(&kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// LoadKeyFile reads a key file and reconstructs the signer.
// The secret must decode to exactly 32 bytes; unknown fields are rejected.
func LoadKeyFile(path string) (*Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParseKeyFile(data)
}

// ParseKeyFile parses key file bytes and reconstructs the signer.
func ParseKeyFile(data []byte) (*Ed25519Signer, error) {
	var kf KeyFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}

	secret, err := hex.DecodeString(kf.KeypairHex)
	if err != nil {
		return nil, fmt.Errorf("bad keypair hex: %w", err)
	}
	if len(secret) != SecretKeySize {
		return nil, fmt.Errorf("expected %d-byte signing key, got %d bytes", SecretKeySize, len(secret))
	}

	signer, err := Ed25519FromSecret(secret)
	if err != nil {
		return nil, err
	}

	// The public_hex field is a convenience copy; if present it must match.
	if kf.PublicHex != "" {
		pub, err := hex.DecodeString(kf.PublicHex)
		if err != nil {
			return nil, fmt.Errorf("bad public hex: %w", err)
		}
		if len(pub) != PublicKeySize {
			return nil, fmt.Errorf("expected %d-byte public key, got %d bytes", PublicKeySize, len(pub))
		}
		if !bytes.Equal(pub, signer.PublicKey()) {
			return nil, fmt.Errorf("public key does not match secret")
		}
	}

	return signer, nil
}
