package contracts

import (
	"time"

	"github.com/agoramesh/agora/pkg/escrow"
)

// Job is the snapshot record of one escrowed engagement. It is a projection:
// the authoritative State is always the one implied by replaying the job's
// event chain, never a value mutated independently of an appended event.
type Job struct {
	JobID                string       `json:"job_id"`
	OfferID              string       `json:"offer_id"`
	ClientID             string       `json:"client_id"`
	ProviderID           string       `json:"provider_id"`
	State                escrow.State `json:"state"`
	RequiredAttestations int          `json:"required_attestations"`
	EscrowAmount         int64        `json:"escrow_amount"`
	TimeoutSeconds       int64        `json:"timeout_seconds"`
	CreatedAt            time.Time    `json:"created_at"`
}

// Offer is a provider's published capability listing. Jobs are created
// against an offer.
type Offer struct {
	OfferID    string    `json:"offer_id"`
	ProviderID string    `json:"provider_id"`
	Capability string    `json:"capability"`
	Price      int64     `json:"price"`
	CreatedAt  time.Time `json:"created_at"`
}
