//go:build property
// +build property

package escrow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allStates = []State{
	StateNone, StateCreated, StateFunded, StateProved,
	StateAttested, StateSettled, StateDisputed,
	StateResolvedRelease, StateResolvedRefund,
}

var allKinds = []EventKind{
	KindJobCreated, KindJobFunded, KindJobProved, KindJobAttested,
	KindJobSettled, KindJobDisputed, KindJobResolvedRelease, KindJobResolvedRefund,
}

var allRoles = []Role{RoleClient, RoleProvider, RoleWitness, RoleSystem}

// TestMachineNeverAdvancesOnRejection: for every (state, kind, role) triple,
// a rejection leaves the state unchanged, and an admitted transition lands on
// a state reachable per the documented table.
func TestMachineNeverAdvancesOnRejection(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("rejections are state-preserving, admissions follow the table", prop.ForAll(
		func(si, ki, ri int, actor string) bool {
			from := allStates[si%len(allStates)]
			kind := allKinds[ki%len(allKinds)]
			role := allRoles[ri%len(allRoles)]
			q := NewQuorumState(1)

			to, err := Next(from, kind, role, actor, q)
			if err != nil {
				return to == from
			}
			if from.Terminal() {
				return false // terminal states must reject everything
			}
			row, ok := transitions[from]
			if !ok {
				return false
			}
			e, ok := row[kind]
			if !ok {
				return false
			}
			if kind == KindJobAttested {
				return to == StateProved || to == StateAttested
			}
			return to == e.to && role == e.role
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
