package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/agoramesh/agora/pkg/canonicalize"
	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/envelope"
	"github.com/agoramesh/agora/pkg/escrow"
)

// CreateJob opens a job against a published offer. The client chooses the
// job identifier inside the signed payload, so the stored canonical payload
// is exactly what the client signed.
func (n *Node) CreateJob(ctx context.Context, env *envelope.Signed) (contracts.Job, *chain.Event, error) {
	canonical, err := n.validator.VerifySigner(ctx, env)
	if err != nil {
		return contracts.Job{}, nil, err
	}
	if err := n.validator.ValidatePayload(string(escrow.KindJobCreated), canonical); err != nil {
		return contracts.Job{}, nil, err
	}

	payload, err := escrow.DecodePayload(escrow.KindJobCreated, canonical)
	if err != nil {
		return contracts.Job{}, nil, &envelope.ValidationError{Code: envelope.CodePayloadSchema, Message: err.Error()}
	}
	created := payload.(escrow.JobCreatedPayload)

	if created.ClientID != env.SignerID {
		return contracts.Job{}, nil, fmt.Errorf("%w: signer %s, payload client %s", ErrActorMismatch, env.SignerID, created.ClientID)
	}

	offer, err := n.jobs.GetOffer(ctx, created.OfferID)
	if err != nil {
		return contracts.Job{}, nil, err
	}
	if offer.ProviderID != created.ProviderID {
		return contracts.Job{}, nil, fmt.Errorf("%w: offer %s belongs to provider %s, payload names %s",
			ErrActorMismatch, offer.OfferID, offer.ProviderID, created.ProviderID)
	}

	if _, err := n.jobs.GetJob(ctx, created.JobID); err == nil {
		return contracts.Job{}, nil, ErrJobExists
	} else if !errors.Is(err, ErrJobNotFound) {
		return contracts.Job{}, nil, err
	}

	event, _, err := n.appendAdmitted(ctx, created.JobID, escrow.KindJobCreated,
		env.SignerID, escrow.RoleClient, canonical, env.Signature, created.RequiredAttestations)
	if err != nil {
		return contracts.Job{}, nil, err
	}

	job := contracts.Job{
		JobID:                created.JobID,
		OfferID:              created.OfferID,
		ClientID:             created.ClientID,
		ProviderID:           created.ProviderID,
		State:                escrow.StateCreated,
		RequiredAttestations: created.RequiredAttestations,
		EscrowAmount:         created.EscrowAmount,
		TimeoutSeconds:       created.TimeoutSeconds,
		CreatedAt:            event.Timestamp,
	}
	if err := n.jobs.PutJob(ctx, job); err != nil {
		return contracts.Job{}, nil, err
	}

	n.logger.InfoContext(ctx, "job created",
		"job_id", job.JobID, "offer_id", job.OfferID,
		"client_id", job.ClientID, "provider_id", job.ProviderID)
	return job, event, nil
}

// SubmitAction admits one signed job event. Verification order is fixed:
// signature, then schema, then payload/actor consistency, then the state
// machine against the fresh chain tail. Inadmissible events leave no trace
// on the chain.
//
// When the admitted event is the attestation that completes the quorum, the
// node immediately appends its own signed JOB_SETTLED event.
func (n *Node) SubmitAction(ctx context.Context, jobID string, kind escrow.EventKind, env *envelope.Signed) (*chain.Event, error) {
	canonical, err := n.validator.VerifySigner(ctx, env)
	if err != nil {
		return nil, err
	}
	if err := n.validator.ValidatePayload(string(kind), canonical); err != nil {
		return nil, err
	}

	payload, err := escrow.DecodePayload(kind, canonical)
	if err != nil {
		return nil, &envelope.ValidationError{Code: envelope.CodePayloadSchema, Message: err.Error()}
	}
	if got := escrow.PayloadJobID(payload); got != jobID {
		return nil, &envelope.ValidationError{
			Code:    envelope.CodePayloadSchema,
			Message: fmt.Sprintf("payload job_id %q does not match submission target %q", got, jobID),
		}
	}

	job, err := n.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	role := n.resolveRole(env.SignerID, &job)

	event, state, err := n.appendAdmitted(ctx, jobID, kind, env.SignerID, role,
		canonical, env.Signature, job.RequiredAttestations)
	if err != nil {
		return nil, err
	}

	if kind == escrow.KindJobAttested && state == escrow.StateAttested {
		if state, err = n.settle(ctx, &job); err != nil {
			return nil, err
		}
	}

	if err := n.jobs.UpdateJobState(ctx, jobID, state); err != nil {
		return nil, err
	}

	n.logger.InfoContext(ctx, "event appended",
		"job_id", jobID, "event_type", string(kind), "actor", env.SignerID,
		"sequence", event.Sequence, "state", string(state))
	return event, nil
}

// settle appends the node's own JOB_SETTLED event once the attestation
// quorum holds.
func (n *Node) settle(ctx context.Context, job *contracts.Job) (escrow.State, error) {
	payload := escrow.JobSettledPayload{
		JobID:        job.JobID,
		Attestations: job.RequiredAttestations,
	}
	canonical, err := canonicalize.JCS(payload)
	if err != nil {
		return "", fmt.Errorf("settlement payload: %w", err)
	}
	sig, err := n.signer.Sign(canonical)
	if err != nil {
		return "", fmt.Errorf("settlement signature: %w", err)
	}

	_, state, err := n.appendAdmitted(ctx, job.JobID, escrow.KindJobSettled,
		n.AuthorityID(), escrow.RoleSystem, canonical, sig, job.RequiredAttestations)
	if err != nil {
		return "", fmt.Errorf("settlement append: %w", err)
	}

	n.logger.InfoContext(ctx, "job settled", "job_id", job.JobID, "attestations", payload.Attestations)
	return state, nil
}

// appendAdmitted runs the compare-and-append loop: read the tail, re-project
// the state, decide admissibility, and append conditioned on the tail still
// holding. A lost race re-validates from scratch; the retry budget turns
// livelock into ErrConcurrentAppendConflict.
func (n *Node) appendAdmitted(ctx context.Context, jobID string, kind escrow.EventKind,
	actor string, role escrow.Role, canonical []byte, signature string, required int) (*chain.Event, escrow.State, error) {

	for attempt := 0; attempt < n.maxRetries; attempt++ {
		events, err := n.chain.ListEvents(ctx, jobID)
		if err != nil {
			return nil, "", err
		}
		state, quorum := projectState(events, required)

		tail := chain.GenesisHash
		var seq uint64
		if len(events) > 0 {
			last := events[len(events)-1]
			tail, seq = last.EventHash, last.Sequence
		}

		next, err := escrow.Next(state, kind, role, actor, quorum)
		if err != nil {
			return nil, "", err
		}

		event, err := chain.NewEvent(jobID, kind, actor, canonical, signature, tail, seq+1, n.clock())
		if err != nil {
			return nil, "", err
		}

		err = n.chain.AppendEvent(ctx, tail, event)
		if errors.Is(err, chain.ErrTailMoved) {
			n.logger.DebugContext(ctx, "append lost tail race, retrying",
				"job_id", jobID, "event_type", string(kind), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return event, next, nil
	}
	return nil, "", ErrConcurrentAppendConflict
}

// resolveRole maps a registered signer to its role for this job. Signature
// verification already guarantees the signer is registered, so the residual
// role is witness.
func (n *Node) resolveRole(signerID string, job *contracts.Job) escrow.Role {
	switch signerID {
	case job.ClientID:
		return escrow.RoleClient
	case job.ProviderID:
		return escrow.RoleProvider
	case n.AuthorityID():
		return escrow.RoleSystem
	default:
		return escrow.RoleWitness
	}
}

// projectState folds an already-admitted chain into its current state and
// quorum. Admissibility was enforced at append time, so the fold applies
// edges without re-checking roles.
func projectState(events []chain.Event, required int) (escrow.State, *escrow.QuorumState) {
	quorum := escrow.NewQuorumState(required)
	state := escrow.StateNone
	for i := range events {
		switch events[i].Kind {
		case escrow.KindJobCreated:
			state = escrow.StateCreated
		case escrow.KindJobFunded:
			state = escrow.StateFunded
		case escrow.KindJobProved:
			state = escrow.StateProved
		case escrow.KindJobAttested:
			quorum.Record(events[i].Actor)
			if quorum.Met() {
				state = escrow.StateAttested
			}
		case escrow.KindJobSettled:
			state = escrow.StateSettled
		case escrow.KindJobDisputed:
			state = escrow.StateDisputed
		case escrow.KindJobResolvedRelease:
			state = escrow.StateResolvedRelease
		case escrow.KindJobResolvedRefund:
			state = escrow.StateResolvedRefund
		}
	}
	return state, quorum
}
