package escrow

// QuorumState counts distinct witness attestations toward a job's
// RequiredAttestations. Attestations serialize like any other event; the
// count dedupes by actor identifier, so a witness attesting twice still
// counts once.
type QuorumState struct {
	required  int
	attesters map[string]struct{}
}

// NewQuorumState creates quorum tracking for a job. required < 1 is treated
// as 1.
func NewQuorumState(required int) *QuorumState {
	if required < 1 {
		required = 1
	}
	return &QuorumState{
		required:  required,
		attesters: make(map[string]struct{}),
	}
}

// Required returns the quorum threshold.
func (q *QuorumState) Required() int { return q.required }

// Record notes an admitted attestation by actorID.
func (q *QuorumState) Record(actorID string) {
	q.attesters[actorID] = struct{}{}
}

// Distinct returns the number of distinct attesters recorded so far.
func (q *QuorumState) Distinct() int { return len(q.attesters) }

// MetWith reports whether quorum would hold once actorID's attestation is
// counted.
func (q *QuorumState) MetWith(actorID string) bool {
	if _, seen := q.attesters[actorID]; seen {
		return len(q.attesters) >= q.required
	}
	return len(q.attesters)+1 >= q.required
}

// Met reports whether quorum already holds.
func (q *QuorumState) Met() bool { return len(q.attesters) >= q.required }
