package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/escrow"
	"github.com/agoramesh/agora/pkg/node"
)

// SQLiteJobStore persists job and offer snapshots.
type SQLiteJobStore struct {
	db *sql.DB
}

var _ node.JobStore = (*SQLiteJobStore)(nil)

func NewSQLiteJobStore(db *sql.DB) (*SQLiteJobStore, error) {
	s := &SQLiteJobStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteJobStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		state TEXT NOT NULL,
		required_attestations INTEGER NOT NULL,
		escrow_amount INTEGER NOT NULL,
		timeout_seconds INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS offers (
		offer_id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		capability TEXT NOT NULL,
		price INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteJobStore) PutJob(ctx context.Context, job contracts.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, offer_id, client_id, provider_id, state, required_attestations, escrow_amount, timeout_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.OfferID, job.ClientID, job.ProviderID, string(job.State),
		job.RequiredAttestations, job.EscrowAmount, job.TimeoutSeconds,
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return node.ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) GetJob(ctx context.Context, jobID string) (contracts.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, offer_id, client_id, provider_id, state, required_attestations, escrow_amount, timeout_seconds, created_at
		FROM jobs WHERE job_id = ?`, jobID)

	var (
		job       contracts.Job
		state     string
		createdAt string
	)
	err := row.Scan(&job.JobID, &job.OfferID, &job.ClientID, &job.ProviderID, &state,
		&job.RequiredAttestations, &job.EscrowAmount, &job.TimeoutSeconds, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Job{}, node.ErrJobNotFound
	}
	if err != nil {
		return contracts.Job{}, fmt.Errorf("read job: %w", err)
	}
	job.State = escrow.State(state)
	job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return contracts.Job{}, fmt.Errorf("parse job created_at %q: %w", createdAt, err)
	}
	return job, nil
}

func (s *SQLiteJobStore) UpdateJobState(ctx context.Context, jobID string, state escrow.State) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = ? WHERE job_id = ?`, string(state), jobID)
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return node.ErrJobNotFound
	}
	return nil
}

func (s *SQLiteJobStore) PutOffer(ctx context.Context, offer contracts.Offer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (offer_id, provider_id, capability, price, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		offer.OfferID, offer.ProviderID, offer.Capability, offer.Price,
		offer.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return node.ErrOfferExists
	}
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) GetOffer(ctx context.Context, offerID string) (contracts.Offer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT offer_id, provider_id, capability, price, created_at
		FROM offers WHERE offer_id = ?`, offerID)
	return scanOffer(row)
}

func (s *SQLiteJobStore) ListOffers(ctx context.Context) ([]contracts.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT offer_id, provider_id, capability, price, created_at
		FROM offers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var offers []contracts.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOffer(row scannable) (contracts.Offer, error) {
	var (
		offer     contracts.Offer
		createdAt string
	)
	err := row.Scan(&offer.OfferID, &offer.ProviderID, &offer.Capability, &offer.Price, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Offer{}, node.ErrOfferNotFound
	}
	if err != nil {
		return contracts.Offer{}, fmt.Errorf("read offer: %w", err)
	}
	offer.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return contracts.Offer{}, fmt.Errorf("parse offer created_at %q: %w", createdAt, err)
	}
	return offer, nil
}
