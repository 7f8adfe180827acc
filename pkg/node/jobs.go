package node

import (
	"context"
	"errors"
	"sync"

	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/escrow"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrOfferNotFound = errors.New("offer not found")
	ErrJobExists     = errors.New("job already exists")
	ErrOfferExists   = errors.New("offer already exists")
)

// JobStore persists job and offer snapshots. Snapshots are projections: the
// chain remains authoritative for job state.
type JobStore interface {
	PutJob(ctx context.Context, job contracts.Job) error
	GetJob(ctx context.Context, jobID string) (contracts.Job, error)
	UpdateJobState(ctx context.Context, jobID string, state escrow.State) error

	PutOffer(ctx context.Context, offer contracts.Offer) error
	GetOffer(ctx context.Context, offerID string) (contracts.Offer, error)
	ListOffers(ctx context.Context) ([]contracts.Offer, error)
}

// MemJobStore is a thread-safe in-memory JobStore.
type MemJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]contracts.Job
	offers map[string]contracts.Offer
}

func NewMemJobStore() *MemJobStore {
	return &MemJobStore{
		jobs:   make(map[string]contracts.Job),
		offers: make(map[string]contracts.Offer),
	}
}

func (s *MemJobStore) PutJob(_ context.Context, job contracts.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return ErrJobExists
	}
	s.jobs[job.JobID] = job
	return nil
}

func (s *MemJobStore) GetJob(_ context.Context, jobID string) (contracts.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return contracts.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *MemJobStore) UpdateJobState(_ context.Context, jobID string, state escrow.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.State = state
	s.jobs[jobID] = job
	return nil
}

func (s *MemJobStore) PutOffer(_ context.Context, offer contracts.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offers[offer.OfferID]; ok {
		return ErrOfferExists
	}
	s.offers[offer.OfferID] = offer
	return nil
}

func (s *MemJobStore) GetOffer(_ context.Context, offerID string) (contracts.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[offerID]
	if !ok {
		return contracts.Offer{}, ErrOfferNotFound
	}
	return offer, nil
}

func (s *MemJobStore) ListOffers(_ context.Context) ([]contracts.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offers := make([]contracts.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		offers = append(offers, o)
	}
	return offers, nil
}
