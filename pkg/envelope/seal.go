package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/agoramesh/agora/pkg/canonicalize"
	"github.com/agoramesh/agora/pkg/crypto"
)

// Seal canonicalizes payload, signs the canonical bytes, and wraps the result
// in a Signed envelope. This is the agent-side counterpart of Validator.
func Seal(signer crypto.Signer, payload any) (*Signed, error) {
	canonical, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	sig, err := signer.Sign(canonical)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return &Signed{
		Payload:   json.RawMessage(canonical),
		Signature: sig,
		SignerID:  signer.AgentID(),
	}, nil
}
