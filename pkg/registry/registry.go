// Package registry is the durable map from agent identifier to public key.
// It is consulted by signature verification and mutated only at registration.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/crypto"
)

var (
	// ErrUnknownSigner means the identifier has no registered key. No event
	// is ever appended on behalf of an unknown signer.
	ErrUnknownSigner = errors.New("unknown signer: identifier not registered")

	// ErrAlreadyRegistered preserves the uniqueness invariant: at most one
	// (identifier → publicKey) binding ever exists, and a public key cannot
	// back a second identity.
	ErrAlreadyRegistered = errors.New("identifier or public key already registered")
)

// Registry is the agent directory interface consumed by the node.
type Registry interface {
	// Register stores a new agent after identity-binding checks. The claimed
	// AgentID must equal crypto.DeriveAgentID(agent.PublicKey).
	Register(ctx context.Context, agent contracts.Agent) error

	// Lookup resolves an identifier to its registered agent record.
	Lookup(ctx context.Context, agentID string) (contracts.Agent, error)

	// List returns all registered agents.
	List(ctx context.Context) ([]contracts.Agent, error)
}

// InMemoryRegistry is a thread-safe in-memory implementation.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	byID    map[string]contracts.Agent
	byKey   map[string]string // publicKey → agentID
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byID:  make(map[string]contracts.Agent),
		byKey: make(map[string]string),
	}
}

func (r *InMemoryRegistry) Register(_ context.Context, agent contracts.Agent) error {
	if err := crypto.CheckIdentityBinding(agent.AgentID, agent.PublicKey); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[agent.AgentID]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.byKey[agent.PublicKey]; ok {
		return ErrAlreadyRegistered
	}

	r.byID[agent.AgentID] = agent
	r.byKey[agent.PublicKey] = agent.AgentID
	return nil
}

func (r *InMemoryRegistry) Lookup(_ context.Context, agentID string) (contracts.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.byID[agentID]
	if !ok {
		return contracts.Agent{}, ErrUnknownSigner
	}
	return agent, nil
}

func (r *InMemoryRegistry) List(_ context.Context) ([]contracts.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]contracts.Agent, 0, len(r.byID))
	for _, a := range r.byID {
		agents = append(agents, a)
	}
	return agents, nil
}
