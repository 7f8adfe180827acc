package escrow

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDisputesUnsupported gates the DISPUTED/RESOLVED_* edges: they are part
// of the transition table so the model is extensible, but dispute policy
// (witness sets, refund rules) is unspecified in v1.
var ErrDisputesUnsupported = errors.New("dispute transitions are not supported in v1")

// InadmissibleTransitionError reports a rejected transition together with the
// event kinds that would have been admissible from the same state.
type InadmissibleTransitionError struct {
	From    State
	Kind    EventKind
	Role    Role
	Allowed []EventKind
	Reason  string
}

func (e *InadmissibleTransitionError) Error() string {
	return fmt.Sprintf("inadmissible transition: %s + %s (role %s): %s; allowed next: %v",
		e.From, e.Kind, e.Role, e.Reason, e.Allowed)
}

type edge struct {
	to   State
	role Role
}

// transitions is the complete edge table. Terminal states are absent: any
// event against them is rejected.
var transitions = map[State]map[EventKind]edge{
	StateNone: {
		KindJobCreated: {to: StateCreated, role: RoleClient},
	},
	StateCreated: {
		KindJobFunded: {to: StateFunded, role: RoleClient},
	},
	StateFunded: {
		KindJobProved: {to: StateProved, role: RoleProvider},
	},
	StateProved: {
		KindJobAttested: {to: StateAttested, role: RoleWitness},
		KindJobDisputed: {to: StateDisputed, role: RoleClient},
	},
	StateAttested: {
		KindJobSettled:  {to: StateSettled, role: RoleSystem},
		KindJobDisputed: {to: StateDisputed, role: RoleClient},
	},
	StateDisputed: {
		KindJobResolvedRelease: {to: StateResolvedRelease, role: RoleSystem},
		KindJobResolvedRefund:  {to: StateResolvedRefund, role: RoleSystem},
	},
}

// AllowedNext returns the event kinds with an outgoing edge from state,
// sorted for stable diagnostics.
func AllowedNext(from State) []EventKind {
	kinds := make([]EventKind, 0, 2)
	for k := range transitions[from] {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Next decides admissibility of (from, kind) triggered by actorID acting in
// role. It is pure: quorum state is read, never written — the caller records
// an admitted attestation afterwards.
//
// The attestation edge is quorum-gated: an admissible JOB_ATTESTED event from
// a witness not yet counted keeps the job in PROVED until the Nth distinct
// witness, whose attestation moves it to ATTESTED.
func Next(from State, kind EventKind, role Role, actorID string, q *QuorumState) (State, error) {
	row, ok := transitions[from]
	if !ok {
		return from, &InadmissibleTransitionError{
			From: from, Kind: kind, Role: role,
			Allowed: AllowedNext(from),
			Reason:  "terminal state admits no events",
		}
	}

	e, ok := row[kind]
	if !ok {
		return from, &InadmissibleTransitionError{
			From: from, Kind: kind, Role: role,
			Allowed: AllowedNext(from),
			Reason:  "no edge for event kind",
		}
	}

	switch kind {
	case KindJobDisputed, KindJobResolvedRelease, KindJobResolvedRefund:
		return from, ErrDisputesUnsupported
	}

	if role != e.role {
		return from, &InadmissibleTransitionError{
			From: from, Kind: kind, Role: role,
			Allowed: AllowedNext(from),
			Reason:  fmt.Sprintf("requires role %s", e.role),
		}
	}

	if kind == KindJobAttested {
		if q == nil {
			return from, fmt.Errorf("attestation requires quorum state")
		}
		if q.MetWith(actorID) {
			return StateAttested, nil
		}
		return StateProved, nil
	}

	return e.to, nil
}
