package escrow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventKind tags the closed set of job event types. Adding a kind requires
// extending DecodePayload and the transition table together.
type EventKind string

const (
	KindJobCreated         EventKind = "JOB_CREATED"
	KindJobFunded          EventKind = "JOB_FUNDED"
	KindJobProved          EventKind = "JOB_PROVED"
	KindJobAttested        EventKind = "JOB_ATTESTED"
	KindJobSettled         EventKind = "JOB_SETTLED"
	KindJobDisputed        EventKind = "JOB_DISPUTED"
	KindJobResolvedRelease EventKind = "JOB_RESOLVED_RELEASE"
	KindJobResolvedRefund  EventKind = "JOB_RESOLVED_REFUND"
)

// Payload is the typed content of a job event. Exactly one struct implements
// it per EventKind.
type Payload interface {
	Kind() EventKind
}

// JobCreatedPayload opens a job against a published offer.
type JobCreatedPayload struct {
	JobID                string `json:"job_id"`
	OfferID              string `json:"offer_id"`
	ClientID             string `json:"client_id"`
	ProviderID           string `json:"provider_id"`
	EscrowAmount         int64  `json:"escrow_amount"`
	RequiredAttestations int    `json:"required_attestations"`
	TimeoutSeconds       int64  `json:"timeout_seconds"`
}

func (JobCreatedPayload) Kind() EventKind { return KindJobCreated }

// JobFundedPayload commits the client's escrow amount.
type JobFundedPayload struct {
	JobID  string `json:"job_id"`
	Amount int64  `json:"amount"`
}

func (JobFundedPayload) Kind() EventKind { return KindJobFunded }

// JobProvedPayload carries the provider's proof-of-work digest.
type JobProvedPayload struct {
	JobID     string `json:"job_id"`
	ProofHash string `json:"proof_hash"`
}

func (JobProvedPayload) Kind() EventKind { return KindJobProved }

// JobAttestedPayload is a witness's verdict on the submitted proof.
type JobAttestedPayload struct {
	JobID   string `json:"job_id"`
	Verdict string `json:"verdict"`
}

func (JobAttestedPayload) Kind() EventKind { return KindJobAttested }

// VerdictDeliveredOK is the happy-path attestation verdict.
const VerdictDeliveredOK = "DELIVERED_OK"

// JobSettledPayload is appended by the node itself once the attestation
// quorum holds.
type JobSettledPayload struct {
	JobID        string `json:"job_id"`
	Attestations int    `json:"attestations"`
}

func (JobSettledPayload) Kind() EventKind { return KindJobSettled }

// JobDisputedPayload opens a dispute. Carried for table completeness; the v1
// machine rejects dispute transitions as unsupported.
type JobDisputedPayload struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

func (JobDisputedPayload) Kind() EventKind { return KindJobDisputed }

// JobResolvedPayload closes a dispute. Unsupported in v1.
type JobResolvedPayload struct {
	JobID   string `json:"job_id"`
	Release bool   `json:"release"`
}

func (p JobResolvedPayload) Kind() EventKind {
	if p.Release {
		return KindJobResolvedRelease
	}
	return KindJobResolvedRefund
}

// DecodePayload parses canonical payload bytes into the typed payload for
// kind. Unknown fields are rejected: a payload that smuggles extra data would
// otherwise survive canonicalization unexamined.
func DecodePayload(kind EventKind, canonical []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindJobCreated:
		p = &JobCreatedPayload{}
	case KindJobFunded:
		p = &JobFundedPayload{}
	case KindJobProved:
		p = &JobProvedPayload{}
	case KindJobAttested:
		p = &JobAttestedPayload{}
	case KindJobSettled:
		p = &JobSettledPayload{}
	case KindJobDisputed:
		p = &JobDisputedPayload{}
	case KindJobResolvedRelease:
		p = &JobResolvedPayload{Release: true}
	case KindJobResolvedRefund:
		p = &JobResolvedPayload{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}

	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return indirect(p), nil
}

// PayloadJobID extracts the job identifier every payload kind carries.
func PayloadJobID(p Payload) string {
	switch t := p.(type) {
	case JobCreatedPayload:
		return t.JobID
	case JobFundedPayload:
		return t.JobID
	case JobProvedPayload:
		return t.JobID
	case JobAttestedPayload:
		return t.JobID
	case JobSettledPayload:
		return t.JobID
	case JobDisputedPayload:
		return t.JobID
	case JobResolvedPayload:
		return t.JobID
	}
	return ""
}

// indirect returns the payload by value so callers can type-switch on the
// struct types directly.
func indirect(p Payload) Payload {
	switch t := p.(type) {
	case *JobCreatedPayload:
		return *t
	case *JobFundedPayload:
		return *t
	case *JobProvedPayload:
		return *t
	case *JobAttestedPayload:
		return *t
	case *JobSettledPayload:
		return *t
	case *JobDisputedPayload:
		return *t
	case *JobResolvedPayload:
		return *t
	}
	return p
}
