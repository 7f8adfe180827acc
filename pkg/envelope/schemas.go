package envelope

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agoramesh/agora/pkg/escrow"
)

// Action names for payloads that are validated but are not job-chain events.
const (
	ActionAgentRegister  = "AGENT_REGISTER"
	ActionOfferPublished = "OFFER_PUBLISHED"
)

// Payload numerics are restricted to integers: cross-language float
// formatting would otherwise break canonical-byte agreement between signer
// and verifier.
var payloadSchemas = map[string]string{
	ActionAgentRegister: `{
		"type": "object",
		"properties": {
			"agent_id":   {"type": "string", "pattern": "^ag_[0-9a-f]{40}$"},
			"public_key": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
		},
		"required": ["agent_id", "public_key"],
		"additionalProperties": false
	}`,
	ActionOfferPublished: `{
		"type": "object",
		"properties": {
			"offer_id":    {"type": "string", "minLength": 1},
			"provider_id": {"type": "string", "pattern": "^ag_[0-9a-f]{40}$"},
			"capability":  {"type": "string", "minLength": 1},
			"price":       {"type": "integer", "minimum": 0}
		},
		"required": ["offer_id", "provider_id", "capability", "price"],
		"additionalProperties": false
	}`,
	string(escrow.KindJobCreated): `{
		"type": "object",
		"properties": {
			"job_id":                {"type": "string", "minLength": 1},
			"offer_id":              {"type": "string", "minLength": 1},
			"client_id":             {"type": "string", "pattern": "^ag_[0-9a-f]{40}$"},
			"provider_id":           {"type": "string", "pattern": "^ag_[0-9a-f]{40}$"},
			"escrow_amount":         {"type": "integer", "minimum": 0},
			"required_attestations": {"type": "integer", "minimum": 1},
			"timeout_seconds":       {"type": "integer", "minimum": 0}
		},
		"required": ["job_id", "offer_id", "client_id", "provider_id", "escrow_amount", "required_attestations", "timeout_seconds"],
		"additionalProperties": false
	}`,
	string(escrow.KindJobFunded): `{
		"type": "object",
		"properties": {
			"job_id": {"type": "string", "minLength": 1},
			"amount": {"type": "integer", "minimum": 0}
		},
		"required": ["job_id", "amount"],
		"additionalProperties": false
	}`,
	string(escrow.KindJobProved): `{
		"type": "object",
		"properties": {
			"job_id":     {"type": "string", "minLength": 1},
			"proof_hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
		},
		"required": ["job_id", "proof_hash"],
		"additionalProperties": false
	}`,
	string(escrow.KindJobAttested): `{
		"type": "object",
		"properties": {
			"job_id":  {"type": "string", "minLength": 1},
			"verdict": {"type": "string", "minLength": 1}
		},
		"required": ["job_id", "verdict"],
		"additionalProperties": false
	}`,
	string(escrow.KindJobSettled): `{
		"type": "object",
		"properties": {
			"job_id":       {"type": "string", "minLength": 1},
			"attestations": {"type": "integer", "minimum": 1}
		},
		"required": ["job_id", "attestations"],
		"additionalProperties": false
	}`,
	string(escrow.KindJobDisputed): `{
		"type": "object",
		"properties": {
			"job_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string"}
		},
		"required": ["job_id", "reason"],
		"additionalProperties": false
	}`,
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiled := make(map[string]*jsonschema.Schema, len(payloadSchemas))
	for name, src := range payloadSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://agoramesh.dev/schemas/%s.schema.json", strings.ToLower(name))
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
		}
		compiled[name] = s
	}
	return compiled, nil
}
