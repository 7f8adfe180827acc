// Package crypto provides the identity and signature engine: Ed25519 key
// generation, deterministic signing over canonical bytes, verification, and
// derivation of an agent's public identifier from its key.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer signs canonical bytes. Implementations must never sign anything
// other than canonicalize output.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	AgentID() string
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
	}
}

// NewEd25519SignerFromHex decodes a hex-encoded private key.
func NewEd25519SignerFromHex(privHex string) (*Ed25519Signer, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("%w: private key hex: %v", ErrInvalidEncoding, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key size %d", ErrInvalidEncoding, len(raw))
	}
	return NewEd25519SignerFromKey(ed25519.PrivateKey(raw)), nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// AgentID returns the identifier derived from the signer's public key.
func (s *Ed25519Signer) AgentID() string {
	return deriveFromBytes(s.pubKey)
}

// PrivateKeyHex exports the private key for storage by the owning agent.
func (s *Ed25519Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.privKey)
}

// Verify verifies a hex-encoded signature against a hex-encoded public key.
// Encoding failures are reported as ErrInvalidEncoding; a well-formed but
// wrong signature returns (false, nil).
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("%w: public key hex: %v", ErrInvalidEncoding, err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("%w: signature hex: %v", ErrInvalidEncoding, err)
	}

	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: public key size %d", ErrInvalidEncoding, len(pubKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: signature size %d", ErrInvalidEncoding, len(sig))
	}

	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
