package audit

import (
	"fmt"

	"github.com/agoramesh/agora/pkg/canonicalize"
	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/escrow"
)

// Check names used in failure reports.
const (
	CheckFormat     = "format"
	CheckChain      = "chain"
	CheckSignature  = "signature"
	CheckPayload    = "payload"
	CheckTransition = "transition"
	CheckFinalState = "final_state"
)

// Failure localizes one verification failure. EventIndex is -1 for failures
// that are not tied to a single event.
type Failure struct {
	EventIndex int    `json:"event_index"`
	Check      string `json:"check"`
	Reason     string `json:"reason"`
}

// Report is the outcome of offline replay verification. Replaying the same
// unmodified bundle twice yields identical reports.
type Report struct {
	JobID      string    `json:"job_id"`
	EventCount int       `json:"event_count"`
	Valid      bool      `json:"valid"`
	FinalState string    `json:"final_state,omitempty"`
	Failures   []Failure `json:"failures,omitempty"`
}

func (r *Report) fail(index int, check, reason string) {
	r.Failures = append(r.Failures, Failure{EventIndex: index, Check: check, Reason: reason})
}

// ReplayVerify re-derives a job's validity from bundle bytes alone:
//
//  1. hash-chain integrity, including the genesis link;
//  2. per-event signature verification against the agent keys embedded in
//     the bundle (each key re-checked against its claimed identifier);
//  3. state-machine replay of every event kind from the implicit initial
//     state, ending on the bundle's claimed job state.
//
// Any failure is recorded with its event index and reason; Valid is true iff
// all three passes succeed for every event.
func ReplayVerify(bundle *Bundle) *Report {
	report := &Report{JobID: bundle.JobID, EventCount: len(bundle.Events)}

	if err := bundle.CheckFormat(); err != nil {
		report.fail(-1, CheckFormat, err.Error())
		return report
	}

	// Agent key material, re-bound to identifiers before use: an embedded
	// key that does not derive its claimed ID is attacker-supplied.
	keys := make(map[string]string, len(bundle.Agents))
	for _, agent := range bundle.Agents {
		if err := crypto.CheckIdentityBinding(agent.AgentID, agent.PublicKey); err != nil {
			report.fail(-1, CheckFormat, fmt.Sprintf("agent %s: %v", agent.AgentID, err))
			continue
		}
		keys[agent.AgentID] = agent.PublicKey
	}

	verifyChain(bundle, report)
	verifySignatures(bundle, keys, report)
	replayTransitions(bundle, keys, report)

	report.Valid = len(report.Failures) == 0
	return report
}

func verifyChain(bundle *Bundle, report *Report) {
	if err := chain.VerifyChain(bundle.Events); err != nil {
		if tamper, ok := err.(*chain.TamperError); ok {
			report.fail(tamper.Index, CheckChain, tamper.Reason)
			return
		}
		report.fail(-1, CheckChain, err.Error())
	}
}

func verifySignatures(bundle *Bundle, keys map[string]string, report *Report) {
	for i := range bundle.Events {
		e := &bundle.Events[i]

		if e.JobID != bundle.JobID {
			report.fail(i, CheckPayload, fmt.Sprintf("event job_id %q does not match bundle job %q", e.JobID, bundle.JobID))
			continue
		}

		pubKey, ok := keys[e.Actor]
		if !ok {
			report.fail(i, CheckSignature, fmt.Sprintf("no registered key for actor %s", e.Actor))
			continue
		}

		// Re-canonicalize before verifying: bundles may have been re-encoded
		// (pretty-printed, reflowed) in transit, and the signature commits to
		// the canonical form, not to any particular framing.
		canonical, err := canonicalize.Transform(e.CanonicalPayload)
		if err != nil {
			report.fail(i, CheckPayload, fmt.Sprintf("payload not canonicalizable: %v", err))
			continue
		}

		valid, err := crypto.Verify(pubKey, e.Signature, canonical)
		if err != nil {
			report.fail(i, CheckSignature, err.Error())
			continue
		}
		if !valid {
			report.fail(i, CheckSignature, "signature does not verify over canonical payload")
		}
	}
}

func replayTransitions(bundle *Bundle, keys map[string]string, report *Report) {
	if len(bundle.Events) == 0 {
		if bundle.Job.State != escrow.StateNone {
			report.fail(-1, CheckFinalState, fmt.Sprintf("job claims state %s with no events", bundle.Job.State))
		}
		return
	}

	// Job parameters come from the signed JOB_CREATED payload, not from the
	// mutable snapshot; the snapshot is cross-checked afterwards.
	first, err := escrow.DecodePayload(bundle.Events[0].Kind, bundle.Events[0].CanonicalPayload)
	if err != nil {
		report.fail(0, CheckPayload, err.Error())
		return
	}
	created, ok := first.(escrow.JobCreatedPayload)
	if !ok {
		report.fail(0, CheckTransition, fmt.Sprintf("first event is %s, expected %s", bundle.Events[0].Kind, escrow.KindJobCreated))
		return
	}

	quorum := escrow.NewQuorumState(created.RequiredAttestations)
	state := escrow.StateNone

	for i := range bundle.Events {
		e := &bundle.Events[i]

		payload, err := escrow.DecodePayload(e.Kind, e.CanonicalPayload)
		if err != nil {
			report.fail(i, CheckPayload, err.Error())
			return
		}
		if jobID := escrow.PayloadJobID(payload); jobID != bundle.JobID {
			report.fail(i, CheckPayload, fmt.Sprintf("payload job_id %q does not match bundle job %q", jobID, bundle.JobID))
			return
		}

		role := resolveRole(e, &created, bundle.Authority, keys)
		next, err := escrow.Next(state, e.Kind, role, e.Actor, quorum)
		if err != nil {
			report.fail(i, CheckTransition, err.Error())
			return
		}
		if e.Kind == escrow.KindJobAttested {
			quorum.Record(e.Actor)
		}
		state = next
	}

	report.FinalState = string(state)
	if state != bundle.Job.State {
		report.fail(len(bundle.Events)-1, CheckFinalState,
			fmt.Sprintf("replayed state %s, job claims %s", state, bundle.Job.State))
	}
}

// resolveRole derives the actor's role for a specific event from the signed
// job parameters. Any registered agent that is neither the job's client nor
// its provider acts as a witness.
func resolveRole(e *chain.Event, created *escrow.JobCreatedPayload, authority string, keys map[string]string) escrow.Role {
	switch {
	case e.Actor == authority && e.Kind == escrow.KindJobSettled:
		return escrow.RoleSystem
	case e.Actor == created.ClientID:
		return escrow.RoleClient
	case e.Actor == created.ProviderID:
		return escrow.RoleProvider
	default:
		if _, registered := keys[e.Actor]; registered {
			return escrow.RoleWitness
		}
		return escrow.Role("unknown")
	}
}
