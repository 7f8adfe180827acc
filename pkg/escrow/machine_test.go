package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathTransitions(t *testing.T) {
	q := NewQuorumState(1)

	st, err := Next(StateNone, KindJobCreated, RoleClient, "ag_client", nil)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, st)

	st, err = Next(st, KindJobFunded, RoleClient, "ag_client", nil)
	require.NoError(t, err)
	assert.Equal(t, StateFunded, st)

	st, err = Next(st, KindJobProved, RoleProvider, "ag_provider", nil)
	require.NoError(t, err)
	assert.Equal(t, StateProved, st)

	st, err = Next(st, KindJobAttested, RoleWitness, "ag_witness", q)
	require.NoError(t, err)
	assert.Equal(t, StateAttested, st)
	q.Record("ag_witness")

	st, err = Next(st, KindJobSettled, RoleSystem, "system", nil)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, st)
	assert.True(t, st.Terminal())
}

func TestTerminalStateRejectsEverything(t *testing.T) {
	kinds := []EventKind{
		KindJobCreated, KindJobFunded, KindJobProved,
		KindJobAttested, KindJobSettled, KindJobDisputed,
	}
	roles := []Role{RoleClient, RoleProvider, RoleWitness, RoleSystem}

	for _, k := range kinds {
		for _, r := range roles {
			_, err := Next(StateSettled, k, r, "ag_x", NewQuorumState(1))
			require.Error(t, err, "SETTLED must reject %s by %s", k, r)

			var inadmissible *InadmissibleTransitionError
			require.ErrorAs(t, err, &inadmissible)
			assert.Empty(t, inadmissible.Allowed)
		}
	}
}

func TestWrongRoleRejected(t *testing.T) {
	cases := []struct {
		from State
		kind EventKind
		role Role
	}{
		{StateNone, KindJobCreated, RoleProvider},
		{StateCreated, KindJobFunded, RoleProvider},
		{StateCreated, KindJobFunded, RoleWitness},
		{StateFunded, KindJobProved, RoleClient},
		{StateProved, KindJobAttested, RoleClient},
		{StateProved, KindJobAttested, RoleProvider},
		{StateAttested, KindJobSettled, RoleClient},
	}

	for _, tc := range cases {
		st, err := Next(tc.from, tc.kind, tc.role, "ag_x", NewQuorumState(1))
		require.Error(t, err, "%s + %s by %s must be rejected", tc.from, tc.kind, tc.role)
		assert.Equal(t, tc.from, st, "state must not advance on rejection")

		var inadmissible *InadmissibleTransitionError
		require.ErrorAs(t, err, &inadmissible)
		assert.NotEmpty(t, inadmissible.Allowed)
	}
}

func TestUnknownEdgeRejected(t *testing.T) {
	// Every (from, kind) pair outside the documented edges is inadmissible.
	states := []State{StateNone, StateCreated, StateFunded, StateProved, StateAttested}
	kinds := []EventKind{KindJobCreated, KindJobFunded, KindJobProved, KindJobAttested, KindJobSettled}

	admissible := map[State]EventKind{
		StateNone:     KindJobCreated,
		StateCreated:  KindJobFunded,
		StateFunded:   KindJobProved,
		StateProved:   KindJobAttested,
		StateAttested: KindJobSettled,
	}

	for _, from := range states {
		for _, kind := range kinds {
			if admissible[from] == kind {
				continue
			}
			_, err := Next(from, kind, RoleClient, "ag_x", NewQuorumState(1))
			var inadmissible *InadmissibleTransitionError
			require.ErrorAs(t, err, &inadmissible, "%s + %s", from, kind)
		}
	}
}

func TestQuorumDeduplicatesByActor(t *testing.T) {
	q := NewQuorumState(2)

	// First witness: quorum 1/2, stays PROVED.
	st, err := Next(StateProved, KindJobAttested, RoleWitness, "ag_w1", q)
	require.NoError(t, err)
	assert.Equal(t, StateProved, st)
	q.Record("ag_w1")

	// Same witness again: still 1/2 distinct, stays PROVED.
	st, err = Next(StateProved, KindJobAttested, RoleWitness, "ag_w1", q)
	require.NoError(t, err)
	assert.Equal(t, StateProved, st)
	q.Record("ag_w1")
	assert.Equal(t, 1, q.Distinct())

	// Second distinct witness: quorum met on the Nth attestation.
	st, err = Next(StateProved, KindJobAttested, RoleWitness, "ag_w2", q)
	require.NoError(t, err)
	assert.Equal(t, StateAttested, st)
	q.Record("ag_w2")
	assert.True(t, q.Met())
}

func TestDisputeEdgesGated(t *testing.T) {
	_, err := Next(StateProved, KindJobDisputed, RoleClient, "ag_client", nil)
	assert.ErrorIs(t, err, ErrDisputesUnsupported)

	_, err = Next(StateAttested, KindJobDisputed, RoleClient, "ag_client", nil)
	assert.ErrorIs(t, err, ErrDisputesUnsupported)

	_, err = Next(StateDisputed, KindJobResolvedRelease, RoleSystem, "system", nil)
	assert.ErrorIs(t, err, ErrDisputesUnsupported)

	_, err = Next(StateDisputed, KindJobResolvedRefund, RoleSystem, "system", nil)
	assert.ErrorIs(t, err, ErrDisputesUnsupported)
}

func TestDecodePayloadClosedVariant(t *testing.T) {
	p, err := DecodePayload(KindJobProved, []byte(`{"job_id":"j1","proof_hash":"abc"}`))
	require.NoError(t, err)
	proved, ok := p.(JobProvedPayload)
	require.True(t, ok)
	assert.Equal(t, "abc", proved.ProofHash)
	assert.Equal(t, KindJobProved, p.Kind())

	// Unknown kind
	_, err = DecodePayload(EventKind("JOB_TELEPORTED"), []byte(`{}`))
	require.Error(t, err)

	// Extra fields rejected
	_, err = DecodePayload(KindJobFunded, []byte(`{"job_id":"j1","amount":5,"smuggled":true}`))
	require.Error(t, err)
}

func TestAllowedNextSorted(t *testing.T) {
	allowed := AllowedNext(StateProved)
	assert.Equal(t, []EventKind{KindJobAttested, KindJobDisputed}, allowed)
	assert.Empty(t, AllowedNext(StateSettled))
	assert.Empty(t, AllowedNext(StateResolvedRefund))
}

func TestNextDoesNotMutateQuorum(t *testing.T) {
	q := NewQuorumState(3)
	_, err := Next(StateProved, KindJobAttested, RoleWitness, "ag_w1", q)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Distinct(), "Next must not record attestations")
}
