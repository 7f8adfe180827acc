// Package envelope defines the signed wire envelope carried by every
// mutating action and its validation pipeline: canonicalization, schema
// checks, and signature verification against the agent registry.
//
// The signature is always computed over canonicalize output of Payload
// alone — Signature and SignerID are never part of the signed bytes.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Signed is the stable wire shape for all mutating actions.
type Signed struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	SignerID  string          `json:"signer_id"`
}

var ErrEmptyEnvelope = errors.New("envelope missing payload, signature, or signer_id")

// checkShape rejects structurally incomplete envelopes before any crypto.
func (s *Signed) checkShape() error {
	if len(s.Payload) == 0 || s.Signature == "" || s.SignerID == "" {
		return ErrEmptyEnvelope
	}
	return nil
}

// ValidationError is a schema or consistency failure with a stable code.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Deterministic validation error codes.
const (
	CodePayloadSchema   = "ERR_PAYLOAD_SCHEMA"
	CodePayloadNotJSON  = "ERR_PAYLOAD_NOT_JSON"
	CodeEnvelopeShape   = "ERR_ENVELOPE_SHAPE"
	CodeUnknownKind     = "ERR_UNKNOWN_EVENT_KIND"
)
