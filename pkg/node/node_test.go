package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/agora/pkg/audit"
	"github.com/agoramesh/agora/pkg/canonicalize"
	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/envelope"
	"github.com/agoramesh/agora/pkg/escrow"
	"github.com/agoramesh/agora/pkg/registry"
)

type harness struct {
	node     *Node
	client   *crypto.Ed25519Signer
	provider *crypto.Ed25519Signer
	witness  *crypto.Ed25519Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	authority, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	n, err := New(registry.NewInMemoryRegistry(), chain.NewMemStore(), NewMemJobStore(), authority, nil)
	require.NoError(t, err)

	base := time.Unix(1700000000, 0).UTC()
	var tick atomic.Int64
	n.WithClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})

	h := &harness{node: n}
	h.client = h.registerAgent(t)
	h.provider = h.registerAgent(t)
	h.witness = h.registerAgent(t)
	return h
}

func (h *harness) registerAgent(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	signer, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	env, err := envelope.Seal(signer, RegistrationPayload{
		AgentID:   signer.AgentID(),
		PublicKey: signer.PublicKey(),
	})
	require.NoError(t, err)

	agent, err := h.node.RegisterAgent(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, signer.AgentID(), agent.AgentID)
	return signer
}

func (h *harness) publishOffer(t *testing.T, capability string, price int64) contracts.Offer {
	t.Helper()
	env, err := envelope.Seal(h.provider, OfferPayload{
		OfferID:    uuid.NewString(),
		ProviderID: h.provider.AgentID(),
		Capability: capability,
		Price:      price,
	})
	require.NoError(t, err)

	offer, err := h.node.PublishOffer(context.Background(), env)
	require.NoError(t, err)
	return offer
}

func (h *harness) createJob(t *testing.T, offer contracts.Offer, requiredAttestations int) contracts.Job {
	t.Helper()
	env, err := envelope.Seal(h.client, escrow.JobCreatedPayload{
		JobID:                uuid.NewString(),
		OfferID:              offer.OfferID,
		ClientID:             h.client.AgentID(),
		ProviderID:           h.provider.AgentID(),
		EscrowAmount:         offer.Price,
		RequiredAttestations: requiredAttestations,
		TimeoutSeconds:       3600,
	})
	require.NoError(t, err)

	job, event, err := h.node.CreateJob(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, escrow.StateCreated, job.State)
	require.Equal(t, uint64(1), event.Sequence)
	require.Equal(t, chain.GenesisHash, event.PrevHash)
	return job
}

func (h *harness) submit(t *testing.T, signer crypto.Signer, jobID string, payload escrow.Payload) (*chain.Event, error) {
	t.Helper()
	env, err := envelope.Seal(signer, payload)
	require.NoError(t, err)
	return h.node.SubmitAction(context.Background(), jobID, payload.Kind(), env)
}

func proofHash() string {
	return canonicalize.HashBytes([]byte("result artifact"))
}

func TestFullLifecycleSingleWitness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)

	_, err := h.submit(t, h.client, job.JobID, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.NoError(t, err)
	_, err = h.submit(t, h.provider, job.JobID, escrow.JobProvedPayload{JobID: job.JobID, ProofHash: proofHash()})
	require.NoError(t, err)
	_, err = h.submit(t, h.witness, job.JobID, escrow.JobAttestedPayload{JobID: job.JobID, Verdict: escrow.VerdictDeliveredOK})
	require.NoError(t, err)

	got, err := h.node.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StateSettled, got.State)

	events, err := h.node.ListEvents(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	wantKinds := []escrow.EventKind{
		escrow.KindJobCreated, escrow.KindJobFunded, escrow.KindJobProved,
		escrow.KindJobAttested, escrow.KindJobSettled,
	}
	for i, e := range events {
		assert.Equal(t, wantKinds[i], e.Kind)
		assert.Equal(t, uint64(i+1), e.Sequence)
	}
	assert.Equal(t, h.node.AuthorityID(), events[4].Actor)
	require.NoError(t, chain.VerifyChain(events))
}

func TestAuditBundleRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)
	_, err := h.submit(t, h.client, job.JobID, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.NoError(t, err)
	_, err = h.submit(t, h.provider, job.JobID, escrow.JobProvedPayload{JobID: job.JobID, ProofHash: proofHash()})
	require.NoError(t, err)
	_, err = h.submit(t, h.witness, job.JobID, escrow.JobAttestedPayload{JobID: job.JobID, Verdict: escrow.VerdictDeliveredOK})
	require.NoError(t, err)

	bundle, err := h.node.BuildAuditBundle(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, h.node.AuthorityID(), bundle.Authority)
	assert.Equal(t, escrow.StateSettled, bundle.Job.State)

	report := audit.ReplayVerify(bundle)
	assert.True(t, report.Valid, "failures: %+v", report.Failures)
	assert.Equal(t, string(escrow.StateSettled), report.FinalState)

	// Any post-export mutation must be caught offline.
	mutated := append([]byte(nil), bundle.Events[2].CanonicalPayload...)
	mutated[0] ^= 0x01
	bundle.Events[2].CanonicalPayload = mutated
	report = audit.ReplayVerify(bundle)
	assert.False(t, report.Valid)
}

func TestAttestationQuorumOfTwo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	secondWitness := h.registerAgent(t)

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 2)
	_, err := h.submit(t, h.client, job.JobID, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.NoError(t, err)
	_, err = h.submit(t, h.provider, job.JobID, escrow.JobProvedPayload{JobID: job.JobID, ProofHash: proofHash()})
	require.NoError(t, err)

	attest := escrow.JobAttestedPayload{JobID: job.JobID, Verdict: escrow.VerdictDeliveredOK}

	_, err = h.submit(t, h.witness, job.JobID, attest)
	require.NoError(t, err)
	got, err := h.node.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StateProved, got.State, "one of two attestations must not settle")

	// Same witness again: recorded identity is deduped, no progress.
	_, err = h.submit(t, h.witness, job.JobID, attest)
	require.NoError(t, err)
	got, err = h.node.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StateProved, got.State, "duplicate witness must not count twice")

	_, err = h.submit(t, secondWitness, job.JobID, attest)
	require.NoError(t, err)
	got, err = h.node.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StateSettled, got.State)
}

func TestInadmissibleTransitionsLeaveNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)

	// Prove before funding.
	_, err := h.submit(t, h.provider, job.JobID, escrow.JobProvedPayload{JobID: job.JobID, ProofHash: proofHash()})
	var inadmissible *escrow.InadmissibleTransitionError
	require.ErrorAs(t, err, &inadmissible)
	assert.Equal(t, escrow.StateCreated, inadmissible.From)

	// Witness tries to fund.
	_, err = h.submit(t, h.witness, job.JobID, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.ErrorAs(t, err, &inadmissible)

	events, err := h.node.ListEvents(ctx, job.JobID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "rejected events must not touch the chain")
}

func TestDisputesRejectedAsUnsupported(t *testing.T) {
	h := newHarness(t)

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)
	_, err := h.submit(t, h.client, job.JobID, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.NoError(t, err)
	_, err = h.submit(t, h.provider, job.JobID, escrow.JobProvedPayload{JobID: job.JobID, ProofHash: proofHash()})
	require.NoError(t, err)

	_, err = h.submit(t, h.client, job.JobID, escrow.JobDisputedPayload{JobID: job.JobID, Reason: "wrong artifact"})
	assert.ErrorIs(t, err, escrow.ErrDisputesUnsupported)
}

func TestUnknownSignerRejected(t *testing.T) {
	h := newHarness(t)

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)

	stranger, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	_, err = h.submit(t, stranger, job.JobID, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	assert.ErrorIs(t, err, registry.ErrUnknownSigner)
}

func TestTamperedEnvelopeRejected(t *testing.T) {
	h := newHarness(t)

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)

	env, err := envelope.Seal(h.client, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.NoError(t, err)
	// Raise the amount after signing.
	env.Payload = []byte(`{"job_id":"` + job.JobID + `","amount":999999}`)

	_, err = h.node.SubmitAction(context.Background(), job.JobID, escrow.KindJobFunded, env)
	assert.ErrorIs(t, err, crypto.ErrInvalidSignature)
}

func TestSettledJobRejectsFurtherEvents(t *testing.T) {
	h := newHarness(t)

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)
	_, err := h.submit(t, h.client, job.JobID, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.NoError(t, err)
	_, err = h.submit(t, h.provider, job.JobID, escrow.JobProvedPayload{JobID: job.JobID, ProofHash: proofHash()})
	require.NoError(t, err)
	_, err = h.submit(t, h.witness, job.JobID, escrow.JobAttestedPayload{JobID: job.JobID, Verdict: escrow.VerdictDeliveredOK})
	require.NoError(t, err)

	_, err = h.submit(t, h.witness, job.JobID, escrow.JobAttestedPayload{JobID: job.JobID, Verdict: escrow.VerdictDeliveredOK})
	var inadmissible *escrow.InadmissibleTransitionError
	require.ErrorAs(t, err, &inadmissible)
	assert.Equal(t, escrow.StateSettled, inadmissible.From)
}

func TestConcurrentDuplicateFundingAppendsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	offer := h.publishOffer(t, "dns_audit", 1000)
	job := h.createJob(t, offer, 1)

	env, err := envelope.Seal(h.client, escrow.JobFundedPayload{JobID: job.JobID, Amount: 1000})
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.node.SubmitAction(ctx, job.JobID, escrow.KindJobFunded, env)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var inadmissible *escrow.InadmissibleTransitionError
		if !errors.As(err, &inadmissible) {
			require.ErrorIs(t, err, ErrConcurrentAppendConflict)
		}
	}
	assert.Equal(t, 1, ok, "exactly one duplicate submission may win")

	events, err := h.node.ListEvents(ctx, job.JobID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRegisterAgentRejectsForeignIdentifier(t *testing.T) {
	h := newHarness(t)

	signer, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	other, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	env, err := envelope.Seal(signer, RegistrationPayload{
		AgentID:   signer.AgentID(),
		PublicKey: other.PublicKey(), // key the signer does not hold
	})
	require.NoError(t, err)

	_, err = h.node.RegisterAgent(context.Background(), env)
	require.Error(t, err)
}

func TestPublishOfferRequiresOwningSigner(t *testing.T) {
	h := newHarness(t)

	env, err := envelope.Seal(h.witness, OfferPayload{
		OfferID:    uuid.NewString(),
		ProviderID: h.provider.AgentID(), // not the signer
		Capability: "dns_audit",
		Price:      1000,
	})
	require.NoError(t, err)

	_, err = h.node.PublishOffer(context.Background(), env)
	assert.ErrorIs(t, err, ErrActorMismatch)
}

func TestCreateJobUnknownOffer(t *testing.T) {
	h := newHarness(t)

	env, err := envelope.Seal(h.client, escrow.JobCreatedPayload{
		JobID:                uuid.NewString(),
		OfferID:              uuid.NewString(),
		ClientID:             h.client.AgentID(),
		ProviderID:           h.provider.AgentID(),
		EscrowAmount:         1000,
		RequiredAttestations: 1,
		TimeoutSeconds:       3600,
	})
	require.NoError(t, err)

	_, _, err = h.node.CreateJob(context.Background(), env)
	assert.ErrorIs(t, err, ErrOfferNotFound)
}
