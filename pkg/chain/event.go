// Package chain implements the per-job hash-linked append-only event log.
// Each event commits to the hash of its predecessor, so altering any
// historical entry invalidates every subsequent link — the entire suffix
// becomes unverifiable, which is the detection signal.
package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agoramesh/agora/pkg/canonicalize"
	"github.com/agoramesh/agora/pkg/escrow"
)

// GenesisHash is the PrevHash of every job's first event.
const GenesisHash = "genesis"

// Event is one immutable, hash-chained entry in a job's log. This is both
// the persisted record shape and the audit-bundle export shape.
type Event struct {
	Sequence         uint64           `json:"sequence"`
	JobID            string           `json:"job_id"`
	Kind             escrow.EventKind `json:"event_type"`
	Actor            string           `json:"actor"`
	CanonicalPayload json.RawMessage  `json:"canonical_payload"`
	PrevHash         string           `json:"prev_hash"`
	EventHash        string           `json:"event_hash"`
	Signature        string           `json:"signature"`
	Timestamp        time.Time        `json:"timestamp"`
}

// hashInput is the header committed to by EventHash. The signature is
// deliberately absent: it is computed over the canonical payload and would
// otherwise create a circular self-reference.
type hashInput struct {
	Sequence  uint64          `json:"sequence"`
	JobID     string          `json:"job_id"`
	Kind      string          `json:"event_type"`
	Actor     string          `json:"actor"`
	PrevHash  string          `json:"prev_hash"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// ComputeEventHash recomputes the hash an honest node would have assigned.
func ComputeEventHash(e *Event) (string, error) {
	in := hashInput{
		Sequence:  e.Sequence,
		JobID:     e.JobID,
		Kind:      string(e.Kind),
		Actor:     e.Actor,
		PrevHash:  e.PrevHash,
		Payload:   e.CanonicalPayload,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	raw, err := canonicalize.JCS(in)
	if err != nil {
		return "", fmt.Errorf("marshal event header: %w", err)
	}
	return "sha256:" + canonicalize.HashBytes(raw), nil
}

// NewEvent assembles an event and seals it with its hash. The canonical
// payload must already be canonicalize output; NewEvent does not re-canonicalize.
func NewEvent(jobID string, kind escrow.EventKind, actor string, canonicalPayload []byte, signature, prevHash string, sequence uint64, ts time.Time) (*Event, error) {
	e := &Event{
		Sequence:         sequence,
		JobID:            jobID,
		Kind:             kind,
		Actor:            actor,
		CanonicalPayload: json.RawMessage(canonicalPayload),
		PrevHash:         prevHash,
		Signature:        signature,
		Timestamp:        ts.UTC(),
	}
	hash, err := ComputeEventHash(e)
	if err != nil {
		return nil, err
	}
	e.EventHash = hash
	return e, nil
}
