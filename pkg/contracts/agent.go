// Package contracts holds the shared data contracts exchanged between Agora
// components: agents, offers, and job records. Event and payload shapes live
// with the packages that own their semantics (pkg/chain, pkg/escrow).
package contracts

import "time"

// Agent is a registered participant identity.
//
// AgentID is a deterministic, collision-resistant function of PublicKey —
// never chosen by the registrant. At most one (AgentID → PublicKey) binding
// ever exists; agents are immutable after registration and never deleted.
type Agent struct {
	// AgentID is derived from PublicKey (crypto.DeriveAgentID).
	AgentID string `json:"agent_id"`

	// PublicKey is the hex-encoded Ed25519 public key.
	PublicKey string `json:"public_key"`

	RegisteredAt time.Time `json:"registered_at"`
}
