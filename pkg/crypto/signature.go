package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// SecretKeySize is the length of a secret key in bytes.
const SecretKeySize = 32

// PublicKeySize is the length of the reference (Ed25519) public key in bytes.
const PublicKeySize = 32

// Signer signs messages with a private key. The algorithm is fixed per
// deployment; the chain never mixes signature schemes.
type Signer interface {
	// Sign produces a signature over the message bytes.
	Sign(msg []byte) ([]byte, error)
	// PublicKey returns the public key bytes for verification.
	PublicKey() []byte
}

// Verifier verifies signatures produced by the deployment's Signer.
type Verifier interface {
	// Verify checks a signature against a message and public key.
	Verify(msg, signature, publicKey []byte) bool
}

// Ed25519Signer is the reference signing capability: 32-byte seed secret,
// 32-byte public key, 64-byte signature.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// GenerateEd25519 creates a new random Ed25519 signer.
func GenerateEd25519() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Ed25519Signer{priv: priv}, nil
}

// Ed25519FromSecret creates a signer from a 32-byte secret seed.
func Ed25519FromSecret(secret []byte) (*Ed25519Signer, error) {
	if len(secret) != SecretKeySize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", SecretKeySize, len(secret))
	}
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(secret)}, nil
}

// Sign produces a 64-byte Ed25519 signature over the message.
func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

// PublicKey returns the 32-byte Ed25519 public key.
func (s *Ed25519Signer) PublicKey() []byte {
	return []byte(s.priv.Public().(ed25519.PublicKey))
}

// Secret returns the 32-byte secret seed.
func (s *Ed25519Signer) Secret() []byte {
	return s.priv.Seed()
}

// Ed25519Verify checks an Ed25519 signature. Returns false on any error.
func Ed25519Verify(msg, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), msg, signature)
}

// Ed25519Verifier implements Verifier for the reference algorithm.
type Ed25519Verifier struct{}

// Verify checks an Ed25519 signature against a message and 32-byte public key.
func (Ed25519Verifier) Verify(msg, signature, publicKey []byte) bool {
	return Ed25519Verify(msg, signature, publicKey)
}

// SchnorrSigner signs with Schnorr/secp256k1. Alternative capability for
// deployments that require it: 32-byte secret scalar, 33-byte compressed
// public key. The message must be a 32-byte hash.
type SchnorrSigner struct {
	key *secp256k1.PrivateKey
}

// GenerateSchnorr creates a new random secp256k1 signer.
func GenerateSchnorr() (*SchnorrSigner, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &SchnorrSigner{key: key}, nil
}

// SchnorrFromSecret creates a signer from a 32-byte secret scalar.
func SchnorrFromSecret(secret []byte) (*SchnorrSigner, error) {
	if len(secret) != SecretKeySize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", SecretKeySize, len(secret))
	}
	return &SchnorrSigner{key: secp256k1.PrivKeyFromBytes(secret)}, nil
}

// Sign produces a Schnorr signature over a 32-byte hash.
func (s *SchnorrSigner) Sign(msg []byte) ([]byte, error) {
	if len(msg) != 32 {
		return nil, fmt.Errorf("message must be a 32-byte hash, got %d bytes", len(msg))
	}
	sig, err := schnorr.Sign(s.key, msg)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the compressed 33-byte public key.
func (s *SchnorrSigner) PublicKey() []byte {
	return s.key.PubKey().SerializeCompressed()
}

// Secret returns the 32-byte secret scalar.
func (s *SchnorrSigner) Secret() []byte {
	return s.key.Serialize()
}

// SchnorrVerify checks a Schnorr signature against a 32-byte hash and a
// compressed public key. Returns false on any error.
func SchnorrVerify(msg, signature, publicKey []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(msg, pubKey)
}

// SchnorrVerifier implements Verifier for the secp256k1 alternative.
type SchnorrVerifier struct{}

// Verify checks a Schnorr signature against a 32-byte hash and compressed public key.
func (SchnorrVerifier) Verify(msg, signature, publicKey []byte) bool {
	return SchnorrVerify(msg, signature, publicKey)
}
