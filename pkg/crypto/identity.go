package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AgentIDPrefix marks derived agent identifiers on the wire.
const AgentIDPrefix = "ag_"

// agentIDHexLen is the number of digest hex chars carried in an identifier.
// 160 bits of SHA-256 output keeps IDs short while staying collision
// resistant for any realistic agent population.
const agentIDHexLen = 40

// DeriveAgentID computes the deterministic identifier for a hex-encoded
// Ed25519 public key. Identifiers are never chosen by the registrant: every
// party derives the same ID from the same key.
func DeriveAgentID(pubKeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: public key hex: %v", ErrInvalidEncoding, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: public key size %d", ErrInvalidEncoding, len(raw))
	}
	return deriveFromBytes(raw), nil
}

// CheckIdentityBinding returns ErrIdentityMismatch unless claimedID equals
// the identifier derived from pubKeyHex.
func CheckIdentityBinding(claimedID, pubKeyHex string) error {
	derived, err := DeriveAgentID(pubKeyHex)
	if err != nil {
		return err
	}
	if derived != claimedID {
		return fmt.Errorf("%w: claimed %q, derived %q", ErrIdentityMismatch, claimedID, derived)
	}
	return nil
}

func deriveFromBytes(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	return AgentIDPrefix + hex.EncodeToString(sum[:])[:agentIDHexLen]
}
