package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNoJob signals an empty queue to the drain loop.
	ErrNoJob = errors.New("queue: no eligible job")
	// ErrJobNotFound is returned by lookups for unknown job ids.
	ErrJobNotFound = errors.New("queue: job not found")
)

// Store is the durable job store contract. Claim must be atomic with
// respect to concurrent drainers: for a given job, exactly one caller may
// observe claimed == true.
type Store interface {
	Insert(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// NextPending returns the oldest pending job whose attempts have not
	// been exhausted, or ErrNoJob.
	NextPending(ctx context.Context) (*Job, error)

	// Claim conditionally transitions pending -> processing, incrementing
	// the attempts counter and stamping the start time. It reports false
	// when another drainer got there first.
	Claim(ctx context.Context, id string, startedAt time.Time) (bool, error)

	// Complete marks the job done and attaches its artifact reference.
	Complete(ctx context.Context, id, artifactRef string, completedAt time.Time) error

	// Release records a failed attempt. The store decides the outcome
	// from its own attempts counter: back to pending while retries
	// remain, terminal failed once they are exhausted. Deciding here
	// keeps a drainer holding a stale Attempts value from requeueing an
	// exhausted job.
	Release(ctx context.Context, id, errMsg string) error

	// ArtifactForResponse returns an artifact reference already recorded
	// against the target resource, if any. Used as a status-query
	// fallback when the job-level field is unset.
	ArtifactForResponse(ctx context.Context, responseID string) (string, error)

	// ReclaimStale transitions processing jobs whose attempt started
	// before the cutoff: back to pending while retries remain, terminal
	// failed otherwise. Reports how many jobs were moved.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
}

// MemStore is an in-memory Store for tests and embedded use.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]*Job

	// response id -> artifact ref, mirroring the response-level fallback
	artifacts map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:      map[string]*Job{},
		artifacts: map[string]string{},
	}
}

func (s *MemStore) Insert(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *MemStore) NextPending(_ context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && job.Attempts < job.MaxAttempts {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoJob
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	clone := *eligible[0]
	return &clone, nil
}

func (s *MemStore) Claim(_ context.Context, id string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status != StatusPending {
		return false, nil
	}
	job.Status = StatusProcessing
	job.Attempts++
	t := startedAt
	job.StartedAt = &t
	return true, nil
}

func (s *MemStore) Complete(_ context.Context, id, artifactRef string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusCompleted
	job.ArtifactRef = artifactRef
	t := completedAt
	job.CompletedAt = &t
	job.ErrorMsg = ""
	s.artifacts[job.ResponseID] = artifactRef
	return nil
}

func (s *MemStore) Release(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
	} else {
		job.Status = StatusPending
	}
	job.ErrorMsg = errMsg
	return nil
}

func (s *MemStore) ArtifactForResponse(_ context.Context, responseID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts[responseID], nil
}

func (s *MemStore) ReclaimStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status != StatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		if job.Attempts >= job.MaxAttempts {
			job.Status = StatusFailed
			if job.ErrorMsg == "" {
				job.ErrorMsg = "processing timed out"
			}
		} else {
			job.Status = StatusPending
		}
		n++
	}
	return n, nil
}
