package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/agora/pkg/canonicalize"
	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/escrow"
	"github.com/agoramesh/agora/pkg/registry"
)

type fixtureJobs struct {
	job contracts.Job
}

func (f *fixtureJobs) GetJob(_ context.Context, jobID string) (contracts.Job, error) {
	if jobID != f.job.JobID {
		return contracts.Job{}, chain.ErrNoEvents
	}
	return f.job, nil
}

// honestBundle drives one job through the full happy path with real keys and
// real appends, then exports it.
func honestBundle(t *testing.T) *Bundle {
	t.Helper()
	ctx := context.Background()

	client, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	provider, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	witness, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	authority, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	reg := registry.NewInMemoryRegistry()
	for _, s := range []crypto.Signer{client, provider, witness, authority} {
		require.NoError(t, reg.Register(ctx, contracts.Agent{
			AgentID:      s.AgentID(),
			PublicKey:    s.PublicKey(),
			RegisteredAt: time.Unix(1700000000, 0).UTC(),
		}))
	}

	const jobID = "job-replay-1"
	created := escrow.JobCreatedPayload{
		JobID:                jobID,
		OfferID:              "offer-replay-1",
		ClientID:             client.AgentID(),
		ProviderID:           provider.AgentID(),
		EscrowAmount:         1000,
		RequiredAttestations: 1,
		TimeoutSeconds:       3600,
	}

	steps := []struct {
		signer  crypto.Signer
		payload escrow.Payload
	}{
		{client, created},
		{client, escrow.JobFundedPayload{JobID: jobID, Amount: 1000}},
		{provider, escrow.JobProvedPayload{JobID: jobID, ProofHash: canonicalize.HashBytes([]byte("artifact"))}},
		{witness, escrow.JobAttestedPayload{JobID: jobID, Verdict: escrow.VerdictDeliveredOK}},
		{authority, escrow.JobSettledPayload{JobID: jobID, Attestations: 1}},
	}

	cs := chain.NewMemStore()
	ts := time.Unix(1700000100, 0).UTC()
	for _, step := range steps {
		canonical, err := canonicalize.JCS(step.payload)
		require.NoError(t, err)
		sig, err := step.signer.Sign(canonical)
		require.NoError(t, err)

		tail, seq, err := cs.Tail(ctx, jobID)
		require.NoError(t, err)
		e, err := chain.NewEvent(jobID, step.payload.Kind(), step.signer.AgentID(), canonical, sig, tail, seq+1, ts)
		require.NoError(t, err)
		require.NoError(t, cs.AppendEvent(ctx, tail, e))
		ts = ts.Add(time.Second)
	}

	jobs := &fixtureJobs{job: contracts.Job{
		JobID:                jobID,
		OfferID:              created.OfferID,
		ClientID:             created.ClientID,
		ProviderID:           created.ProviderID,
		State:                escrow.StateSettled,
		RequiredAttestations: 1,
		EscrowAmount:         1000,
		TimeoutSeconds:       3600,
		CreatedAt:            time.Unix(1700000100, 0).UTC(),
	}}

	bundle, err := NewBuilder(cs, reg, jobs, authority.AgentID()).
		WithClock(func() time.Time { return time.Unix(1700001000, 0).UTC() }).
		Build(ctx, jobID)
	require.NoError(t, err)
	return bundle
}

func TestReplayVerifyHonestBundle(t *testing.T) {
	bundle := honestBundle(t)

	report := ReplayVerify(bundle)
	assert.True(t, report.Valid, "failures: %+v", report.Failures)
	assert.Equal(t, 5, report.EventCount)
	assert.Equal(t, string(escrow.StateSettled), report.FinalState)
	assert.Empty(t, report.Failures)
}

func TestReplayVerifyDetectsPayloadByteFlip(t *testing.T) {
	bundle := honestBundle(t)

	// Flip one byte inside the stored JOB_PROVED payload. The event hash no
	// longer matches, and the signature no longer verifies.
	const proved = 2
	require.Equal(t, escrow.KindJobProved, bundle.Events[proved].Kind)
	mutated := append([]byte(nil), bundle.Events[proved].CanonicalPayload...)
	mutated[len(mutated)/2] ^= 0x01
	bundle.Events[proved].CanonicalPayload = mutated

	report := ReplayVerify(bundle)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Failures)
	for _, f := range report.Failures {
		assert.GreaterOrEqual(t, f.EventIndex, proved)
	}
	checks := make(map[string]bool)
	for _, f := range report.Failures {
		checks[f.Check] = true
	}
	assert.True(t, checks[CheckChain], "hash recompute must flag the mutated event")
}

func TestReplayVerifyDetectsForgedSignature(t *testing.T) {
	bundle := honestBundle(t)

	// Re-sign the funded event with a key that is not the client's, keeping
	// the header hash consistent so only the signature pass can catch it.
	stranger, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	sig, err := stranger.Sign(bundle.Events[1].CanonicalPayload)
	require.NoError(t, err)
	bundle.Events[1].Signature = sig

	report := ReplayVerify(bundle)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Failures)
	assert.Equal(t, 1, report.Failures[0].EventIndex)
	assert.Equal(t, CheckSignature, report.Failures[0].Check)
}

func TestReplayVerifyRejectsUnknownFormat(t *testing.T) {
	bundle := honestBundle(t)
	bundle.FormatVersion = "2.0.0"

	report := ReplayVerify(bundle)
	assert.False(t, report.Valid)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, CheckFormat, report.Failures[0].Check)
	assert.Equal(t, -1, report.Failures[0].EventIndex)
}

func TestReplayVerifyRejectsMisboundAgentKey(t *testing.T) {
	bundle := honestBundle(t)

	// Swap one embedded agent's key for another's. The identifier no longer
	// derives from the key, so the agent must be excluded and every event it
	// signed must fail signature lookup.
	bundle.Agents[0].PublicKey = bundle.Agents[1].PublicKey

	report := ReplayVerify(bundle)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Failures)
	assert.Equal(t, CheckFormat, report.Failures[0].Check)
}

func TestReplayVerifyIsIdempotent(t *testing.T) {
	bundle := honestBundle(t)

	first := ReplayVerify(bundle)
	second := ReplayVerify(bundle)
	assert.Equal(t, first, second)
}

func TestReplayVerifyFinalStateMismatch(t *testing.T) {
	bundle := honestBundle(t)
	bundle.Job.State = escrow.StateProved

	report := ReplayVerify(bundle)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Failures)
	last := report.Failures[len(report.Failures)-1]
	assert.Equal(t, CheckFinalState, last.Check)
	assert.Equal(t, string(escrow.StateSettled), report.FinalState)
}
