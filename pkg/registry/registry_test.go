package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/crypto"
)

func newTestAgent(t *testing.T) (contracts.Agent, *crypto.Ed25519Signer) {
	t.Helper()
	signer, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	return contracts.Agent{
		AgentID:      signer.AgentID(),
		PublicKey:    signer.PublicKey(),
		RegisteredAt: time.Now().UTC(),
	}, signer
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	agent, _ := newTestAgent(t)
	require.NoError(t, r.Register(ctx, agent))

	got, err := r.Lookup(ctx, agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, agent.PublicKey, got.PublicKey)

	_, err = r.Lookup(ctx, "ag_0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrUnknownSigner)
}

func TestRegisterRejectsIdentityMismatch(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	agent, _ := newTestAgent(t)
	agent.AgentID = "ag_1111111111111111111111111111111111111111"

	err := r.Register(ctx, agent)
	assert.ErrorIs(t, err, crypto.ErrIdentityMismatch)

	_, err = r.Lookup(ctx, agent.AgentID)
	assert.ErrorIs(t, err, ErrUnknownSigner, "rejected registration must not bind")
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	agent, _ := newTestAgent(t)
	require.NoError(t, r.Register(ctx, agent))
	assert.ErrorIs(t, r.Register(ctx, agent), ErrAlreadyRegistered)
}

func TestRegisterRejectsKeyReuse(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	agent, _ := newTestAgent(t)
	require.NoError(t, r.Register(ctx, agent))

	// Same key cannot back a second identity: any other claimed ID fails the
	// derivation check, and the derived ID itself is already taken.
	imposter := agent
	imposter.AgentID = "ag_2222222222222222222222222222222222222222"
	err := r.Register(ctx, imposter)
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRegistry()

	a1, _ := newTestAgent(t)
	a2, _ := newTestAgent(t)
	require.NoError(t, r.Register(ctx, a1))
	require.NoError(t, r.Register(ctx, a2))

	agents, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}
