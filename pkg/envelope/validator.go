package envelope

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agoramesh/agora/pkg/canonicalize"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/registry"
)

// Validator checks signed envelopes: shape, payload schema, and signature
// against the key the registry holds for the claimed signer.
type Validator struct {
	registry registry.Registry
	schemas  map[string]*jsonschema.Schema
}

// NewValidator compiles all payload schemas up front so malformed schema
// text fails at construction, not per request.
func NewValidator(reg registry.Registry) (*Validator, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Validator{registry: reg, schemas: schemas}, nil
}

// Canonical returns the canonical bytes of the envelope payload — the exact
// bytes the signer must have signed.
func (v *Validator) Canonical(env *Signed) ([]byte, error) {
	if err := env.checkShape(); err != nil {
		return nil, &ValidationError{Code: CodeEnvelopeShape, Message: err.Error()}
	}
	canonical, err := canonicalize.Transform(env.Payload)
	if err != nil {
		return nil, &ValidationError{Code: CodePayloadNotJSON, Message: err.Error()}
	}
	return canonical, nil
}

// ValidatePayload checks canonical payload bytes against the schema for the
// named action (an escrow.EventKind string or one of the Action* constants).
func (v *Validator) ValidatePayload(action string, canonical []byte) error {
	schema, ok := v.schemas[action]
	if !ok {
		return &ValidationError{Code: CodeUnknownKind, Message: fmt.Sprintf("no schema for action %q", action)}
	}

	var instance interface{}
	if err := json.Unmarshal(canonical, &instance); err != nil {
		return &ValidationError{Code: CodePayloadNotJSON, Message: err.Error()}
	}
	if err := schema.Validate(instance); err != nil {
		return &ValidationError{Code: CodePayloadSchema, Message: err.Error()}
	}
	return nil
}

// VerifySigner resolves the claimed signer through the registry and verifies
// the envelope signature over the canonical payload. Returns the canonical
// bytes for downstream hashing so they are computed exactly once.
func (v *Validator) VerifySigner(ctx context.Context, env *Signed) ([]byte, error) {
	canonical, err := v.Canonical(env)
	if err != nil {
		return nil, err
	}

	agent, err := v.registry.Lookup(ctx, env.SignerID)
	if err != nil {
		return nil, err
	}

	ok, err := crypto.Verify(agent.PublicKey, env.Signature, canonical)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, crypto.ErrInvalidSignature
	}
	return canonical, nil
}

// VerifyAgainstKey verifies the envelope against an explicit public key.
// Used for registration, where the signer is not yet in the registry and the
// key is embedded in the payload itself.
func (v *Validator) VerifyAgainstKey(env *Signed, pubKeyHex string) ([]byte, error) {
	canonical, err := v.Canonical(env)
	if err != nil {
		return nil, err
	}

	ok, err := crypto.Verify(pubKeyHex, env.Signature, canonical)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, crypto.ErrInvalidSignature
	}
	return canonical, nil
}
