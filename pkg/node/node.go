// Package node is the coordination authority: it verifies signed envelopes,
// consults the escrow state machine, and appends admitted events to each
// job's hash chain. The node sequences and attests; it never holds custody
// of funds and never signs on an agent's behalf.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agoramesh/agora/pkg/audit"
	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/envelope"
	"github.com/agoramesh/agora/pkg/registry"
)

// ErrConcurrentAppendConflict is returned when an append loses the
// compare-and-append race more times than the retry budget allows.
var ErrConcurrentAppendConflict = errors.New("concurrent append conflict: retries exhausted")

// ErrActorMismatch means the envelope signer is not the actor the payload
// claims to act as.
var ErrActorMismatch = errors.New("envelope signer does not match payload actor")

// defaultMaxAppendRetries bounds tail re-reads under contention. Each retry
// re-validates the transition against the fresh tail, so a stale loser is
// rejected, never silently re-ordered.
const defaultMaxAppendRetries = 5

// RegistrationPayload is the signed content of an AGENT_REGISTER envelope.
// The key is inside the signed payload, so registration proves possession.
type RegistrationPayload struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
}

// OfferPayload is the signed content of an OFFER_PUBLISHED envelope.
type OfferPayload struct {
	OfferID    string `json:"offer_id"`
	ProviderID string `json:"provider_id"`
	Capability string `json:"capability"`
	Price      int64  `json:"price"`
}

// Node wires the registry, chain store, and job store behind the signed
// action surface.
type Node struct {
	registry   registry.Registry
	chain      chain.Store
	jobs       JobStore
	validator  *envelope.Validator
	signer     crypto.Signer
	logger     *slog.Logger
	clock      func() time.Time
	maxRetries int
}

// New constructs a node and registers its own authority identity so that
// system-emitted events (JOB_SETTLED) verify like any other event.
func New(reg registry.Registry, cs chain.Store, jobs JobStore, signer crypto.Signer, logger *slog.Logger) (*Node, error) {
	validator, err := envelope.NewValidator(reg)
	if err != nil {
		return nil, fmt.Errorf("node validator: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		registry:   reg,
		chain:      cs,
		jobs:       jobs,
		validator:  validator,
		signer:     signer,
		logger:     logger,
		clock:      time.Now,
		maxRetries: defaultMaxAppendRetries,
	}

	err = reg.Register(context.Background(), contracts.Agent{
		AgentID:      signer.AgentID(),
		PublicKey:    signer.PublicKey(),
		RegisteredAt: n.clock().UTC(),
	})
	if err != nil && !errors.Is(err, registry.ErrAlreadyRegistered) {
		return nil, fmt.Errorf("register authority identity: %w", err)
	}
	return n, nil
}

// WithClock overrides the node clock for deterministic tests.
func (n *Node) WithClock(clock func() time.Time) *Node {
	n.clock = clock
	return n
}

// WithMaxAppendRetries overrides the retry budget for lost append races.
func (n *Node) WithMaxAppendRetries(retries int) *Node {
	if retries > 0 {
		n.maxRetries = retries
	}
	return n
}

// AuthorityID is the node's own agent identifier, the actor of
// system-emitted events.
func (n *Node) AuthorityID() string { return n.signer.AgentID() }

// RegisterAgent admits a new identity. The envelope is verified against the
// public key carried in its own payload; the registry then enforces that the
// claimed identifier derives from that key and that both are unused.
func (n *Node) RegisterAgent(ctx context.Context, env *envelope.Signed) (contracts.Agent, error) {
	canonical, err := n.validator.Canonical(env)
	if err != nil {
		return contracts.Agent{}, err
	}
	if err := n.validator.ValidatePayload(envelope.ActionAgentRegister, canonical); err != nil {
		return contracts.Agent{}, err
	}

	var payload RegistrationPayload
	if err := decodeStrict(canonical, &payload); err != nil {
		return contracts.Agent{}, err
	}
	if env.SignerID != payload.AgentID {
		return contracts.Agent{}, fmt.Errorf("%w: signer %s, payload agent %s", ErrActorMismatch, env.SignerID, payload.AgentID)
	}
	if _, err := n.validator.VerifyAgainstKey(env, payload.PublicKey); err != nil {
		return contracts.Agent{}, err
	}

	agent := contracts.Agent{
		AgentID:      payload.AgentID,
		PublicKey:    payload.PublicKey,
		RegisteredAt: n.clock().UTC(),
	}
	if err := n.registry.Register(ctx, agent); err != nil {
		return contracts.Agent{}, err
	}

	n.logger.InfoContext(ctx, "agent registered", "agent_id", agent.AgentID)
	return agent, nil
}

// PublishOffer records a provider's capability offer. Offers are directory
// entries, not chain events: nothing about an offer is escrow state.
func (n *Node) PublishOffer(ctx context.Context, env *envelope.Signed) (contracts.Offer, error) {
	canonical, err := n.validator.VerifySigner(ctx, env)
	if err != nil {
		return contracts.Offer{}, err
	}
	if err := n.validator.ValidatePayload(envelope.ActionOfferPublished, canonical); err != nil {
		return contracts.Offer{}, err
	}

	var payload OfferPayload
	if err := decodeStrict(canonical, &payload); err != nil {
		return contracts.Offer{}, err
	}
	if payload.ProviderID != env.SignerID {
		return contracts.Offer{}, fmt.Errorf("%w: signer %s, payload provider %s", ErrActorMismatch, env.SignerID, payload.ProviderID)
	}

	offer := contracts.Offer{
		OfferID:    payload.OfferID,
		ProviderID: payload.ProviderID,
		Capability: payload.Capability,
		Price:      payload.Price,
		CreatedAt:  n.clock().UTC(),
	}
	if err := n.jobs.PutOffer(ctx, offer); err != nil {
		return contracts.Offer{}, err
	}

	n.logger.InfoContext(ctx, "offer published",
		"offer_id", offer.OfferID, "provider_id", offer.ProviderID, "capability", offer.Capability)
	return offer, nil
}

// ListOffers returns the published offer directory.
func (n *Node) ListOffers(ctx context.Context) ([]contracts.Offer, error) {
	return n.jobs.ListOffers(ctx)
}

// GetJob returns the job snapshot with its state re-projected from the
// chain. The chain is authoritative; the snapshot only caches it.
func (n *Node) GetJob(ctx context.Context, jobID string) (contracts.Job, error) {
	job, err := n.jobs.GetJob(ctx, jobID)
	if err != nil {
		return contracts.Job{}, err
	}

	events, err := n.chain.ListEvents(ctx, jobID)
	if err != nil {
		return contracts.Job{}, err
	}
	state, _ := projectState(events, job.RequiredAttestations)
	job.State = state
	return job, nil
}

// ListEvents returns a job's full chain in append order.
func (n *Node) ListEvents(ctx context.Context, jobID string) ([]chain.Event, error) {
	if _, err := n.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return n.chain.ListEvents(ctx, jobID)
}

// BuildAuditBundle exports a self-contained bundle for offline verification.
func (n *Node) BuildAuditBundle(ctx context.Context, jobID string) (*audit.Bundle, error) {
	job, err := n.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	builder := audit.NewBuilder(n.chain, n.registry, snapshotGetter{job}, n.AuthorityID()).
		WithClock(n.clock)
	return builder.Build(ctx, jobID)
}

// ReplayVerify checks a bundle using nothing but its own bytes. The node
// holds no state the verifier needs; this exists so callers holding a Node
// get the full operation surface in one place.
func (n *Node) ReplayVerify(bundle *audit.Bundle) *audit.Report {
	return audit.ReplayVerify(bundle)
}

// snapshotGetter hands the builder the already re-projected job, so the
// bundle's claimed state always reflects the chain it packages.
type snapshotGetter struct {
	job contracts.Job
}

func (g snapshotGetter) GetJob(_ context.Context, jobID string) (contracts.Job, error) {
	if jobID != g.job.JobID {
		return contracts.Job{}, ErrJobNotFound
	}
	return g.job, nil
}

func decodeStrict(canonical []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &envelope.ValidationError{Code: envelope.CodePayloadSchema, Message: err.Error()}
	}
	return nil
}
