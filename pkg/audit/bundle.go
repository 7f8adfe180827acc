// Package audit assembles self-contained audit bundles for a job's event
// chain and replays them offline. The replay verifier trusts only the
// cryptographic primitives (Ed25519, SHA-256, JCS) and the bundle format —
// it never contacts the node and never trusts it.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/registry"
)

// BundleFormatVersion identifies the export format written by this build.
const BundleFormatVersion = "1.0.0"

// formatConstraint is the range of bundle versions this verifier replays.
var formatConstraint = mustConstraint("^1")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Bundle is a complete, verifiable copy of one job's chain. Every field is
// copied from the node's stores; nothing in a bundle is authoritative beyond
// what its own hashes and signatures prove.
type Bundle struct {
	FormatVersion string `json:"format_version"`
	JobID         string `json:"job_id"`

	// Authority is the node's own agent identifier: the signer of
	// system-emitted events such as JOB_SETTLED. Verifiers are expected to
	// know the authority identity of the node they audit out of band.
	Authority string `json:"authority"`

	GeneratedAt time.Time         `json:"generated_at"`
	Job         contracts.Job     `json:"job"`
	Events      []chain.Event     `json:"events"`
	Agents      []contracts.Agent `json:"agents"`
}

// CheckFormat rejects bundles written by an incompatible exporter before any
// expensive verification work.
func (b *Bundle) CheckFormat() error {
	v, err := semver.NewVersion(b.FormatVersion)
	if err != nil {
		return fmt.Errorf("bundle format version %q: %w", b.FormatVersion, err)
	}
	if !formatConstraint.Check(v) {
		return fmt.Errorf("bundle format version %q outside supported range %s", b.FormatVersion, formatConstraint)
	}
	return nil
}

// JobGetter provides the job snapshot included in a bundle.
type JobGetter interface {
	GetJob(ctx context.Context, jobID string) (contracts.Job, error)
}

// Builder assembles bundles from the node's chain store and registry.
type Builder struct {
	chain     chain.Store
	registry  registry.Registry
	jobs      JobGetter
	authority string
	clock     func() time.Time
}

// NewBuilder creates a bundle builder. authority is the node's own agent
// identifier, recorded in every bundle.
func NewBuilder(cs chain.Store, reg registry.Registry, jobs JobGetter, authority string) *Builder {
	return &Builder{chain: cs, registry: reg, jobs: jobs, authority: authority, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build reads every event for jobID in append order and packages it with the
// job snapshot and all registered agent keys, so no further server
// interaction is needed to validate the result.
func (b *Builder) Build(ctx context.Context, jobID string) (*Bundle, error) {
	job, err := b.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("bundle job snapshot: %w", err)
	}

	events, err := b.chain.ListEvents(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("bundle events: %w", err)
	}

	agents, err := b.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle agents: %w", err)
	}

	return &Bundle{
		FormatVersion: BundleFormatVersion,
		JobID:         jobID,
		Authority:     b.authority,
		GeneratedAt:   b.clock().UTC(),
		Job:           job,
		Events:        events,
		Agents:        agents,
	}, nil
}
