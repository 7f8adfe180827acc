// Package escrow implements the job escrow state machine: a pure function
// over (current state, event kind, actor role, quorum) deciding whether a
// proposed transition is admissible. The machine has no side effects and
// appends nothing; the node sequences its check before any chain append, and
// the audit replayer drives the same table offline.
package escrow

// State is a job's escrow lifecycle state. The authoritative value is always
// the one implied by replaying the job's event chain.
type State string

const (
	// StateNone is the implicit state before a job's first event.
	StateNone State = ""

	StateCreated  State = "CREATED"
	StateFunded   State = "FUNDED"
	StateProved   State = "PROVED"
	StateAttested State = "ATTESTED"
	StateSettled  State = "SETTLED"

	// Dispute extension. The edges exist in the transition table but dispute
	// policy is not specified in v1, so the machine rejects them with
	// ErrDisputesUnsupported rather than inventing quorum or refund rules.
	StateDisputed        State = "DISPUTED"
	StateResolvedRelease State = "RESOLVED_RELEASE"
	StateResolvedRefund  State = "RESOLVED_REFUND"
)

// Terminal reports whether the state admits no outgoing edges.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateResolvedRelease, StateResolvedRefund:
		return true
	}
	return false
}

// Role is the relationship between an actor and a specific job.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleWitness  Role = "witness"
	RoleSystem   Role = "system"
)
