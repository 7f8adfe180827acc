package chain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTailMoved signals a lost compare-and-append race: the chain tail no
	// longer matches the hash the caller validated against. The caller must
	// re-read the tail and re-validate the transition before retrying.
	ErrTailMoved = errors.New("chain tail moved during append")

	// ErrNoEvents is returned when a job has no chain yet.
	ErrNoEvents = errors.New("no events for job")
)

// Store persists per-job event chains. Append is conditional on the expected
// tail hash; cross-job operations are fully independent.
type Store interface {
	// AppendEvent commits e atomically if the job's current tail hash still
	// equals expectedTail (GenesisHash for an empty chain). Returns
	// ErrTailMoved otherwise. An append either fully commits or fully fails.
	AppendEvent(ctx context.Context, expectedTail string, e *Event) error

	// Tail returns the current tail hash and sequence for jobID.
	// (GenesisHash, 0) when the job has no events.
	Tail(ctx context.Context, jobID string) (hash string, sequence uint64, err error)

	// ListEvents returns the full chain for jobID in append order.
	ListEvents(ctx context.Context, jobID string) ([]Event, error)
}

// TamperError localizes the first broken link or hash mismatch in a chain.
// Verification never heals or guesses intent.
type TamperError struct {
	Index  int
	Reason string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("tamper detected at event %d: %s", e.Index, e.Reason)
}

// VerifyChain recomputes every event hash and checks every link, including
// the genesis link of the first event. It returns nil for an intact chain or
// a *TamperError at the first inconsistent index.
func VerifyChain(events []Event) error {
	prevHash := GenesisHash
	for i := range events {
		e := &events[i]

		if e.PrevHash != prevHash {
			return &TamperError{
				Index:  i,
				Reason: fmt.Sprintf("prev_hash %q does not match predecessor hash %q", e.PrevHash, prevHash),
			}
		}

		if want := uint64(i + 1); e.Sequence != want {
			return &TamperError{
				Index:  i,
				Reason: fmt.Sprintf("sequence %d, expected %d", e.Sequence, want),
			}
		}

		computed, err := ComputeEventHash(e)
		if err != nil {
			return &TamperError{Index: i, Reason: fmt.Sprintf("hash recompute failed: %v", err)}
		}
		if computed != e.EventHash {
			return &TamperError{
				Index:  i,
				Reason: fmt.Sprintf("stored hash %q, recomputed %q", e.EventHash, computed),
			}
		}

		prevHash = e.EventHash
	}
	return nil
}
