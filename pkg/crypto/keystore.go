package crypto

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// keystoreFile is the on-disk JSON container for an encrypted key file.
// The ciphertext holds the plaintext KeyFile JSON.
type keystoreFile struct {
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	EncryptedKey []byte    `json:"encrypted_key"`
}

// keystoreVersion gates the container format.
const keystoreVersion = 1

// SaveEncryptedKeyFile writes a passphrase-protected key file.
func SaveEncryptedKeyFile(path string, signer *Ed25519Signer, password []byte, params EncryptionParams) error {
	kf := KeyFile{
		KeypairHex: fmt.Sprintf("%x", signer.Secret()),
		PublicHex:  fmt.Sprintf("%x", signer.PublicKey()),
	}
	plain, err := json.Marshal(&kf)
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}

	encrypted, err := Encrypt(plain, password, params)
	if err != nil {
		return fmt.Errorf("encrypt key file: %w", err)
	}

	ks := keystoreFile{
		Version:      keystoreVersion,
		CreatedAt:    time.Now().UTC(),
		EncryptedKey: encrypted,
	}
	data, err := json.MarshalIndent(&ks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

// LoadEncryptedKeyFile decrypts a passphrase-protected key file and
// reconstructs the signer.
func LoadEncryptedKeyFile(path string, password []byte) (*Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", ks.Version)
	}

	plain, err := Decrypt(ks.EncryptedKey, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore (wrong passphrase?): %w", err)
	}
	return ParseKeyFile(plain)
}

// IsEncryptedKeyFile reports whether the file at path looks like an
// encrypted keystore rather than a plaintext key file.
func IsEncryptedKeyFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var probe struct {
		EncryptedKey []byte `json:"encrypted_key"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return len(probe.EncryptedKey) > 0
}
