package export

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryJobStore is an in-memory implementation of JobStore and
// AtomicClaimStore. Used for testing and development. Thread-safe via Mutex;
// the single lock makes every claim atomic by construction.
type InMemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewInMemoryJobStore creates a new in-memory job store.
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[string]*Job)}
}

// Insert stores a new job.
func (s *InMemoryJobStore) Insert(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.State == "" {
		job.State = StateQueued
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get retrieves a job by ID.
func (s *InMemoryJobStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// oldestQueuedLocked returns the oldest queued job without copying.
// Caller must hold the lock.
func (s *InMemoryJobStore) oldestQueuedLocked() *Job {
	var oldest *Job
	for _, job := range s.jobs {
		if job.State != StateQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) ||
			(job.CreatedAt.Equal(oldest.CreatedAt) && job.ID < oldest.ID) {
			oldest = job
		}
	}
	return oldest
}

func (s *InMemoryJobStore) countActiveLocked() int {
	count := 0
	for _, job := range s.jobs {
		if job.State.Active() {
			count++
		}
	}
	return count
}

// OldestQueued returns the oldest queued job, or nil when none exists.
func (s *InMemoryJobStore) OldestQueued(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.oldestQueuedLocked()
	if job == nil {
		return nil, nil
	}
	return cloneJob(job), nil
}

// CountActive returns how many jobs occupy worker slots.
func (s *InMemoryJobStore) CountActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(), nil
}

// TryClaim conditionally transitions a job from queued to preparing.
func (s *InMemoryJobStore) TryClaim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.State != StateQueued {
		return false, nil
	}
	now := time.Now().UTC()
	job.State = StatePreparing
	job.StartedAt = &now
	job.UpdatedAt = now
	return true, nil
}

// ClaimOldestQueued atomically claims the oldest queued job under the cap.
func (s *InMemoryJobStore) ClaimOldestQueued(ctx context.Context, maxActive int) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxActive > 0 && s.countActiveLocked() >= maxActive {
		return nil, nil
	}
	job := s.oldestQueuedLocked()
	if job == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	job.State = StatePreparing
	job.StartedAt = &now
	job.UpdatedAt = now
	return cloneJob(job), nil
}

// SetState updates the job's state and progress.
func (s *InMemoryJobStore) SetState(ctx context.Context, id string, state State, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.State = state
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkReady records the terminal success state with its artifact fields.
func (s *InMemoryJobStore) MarkReady(ctx context.Context, id string, artifact ReadyArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now().UTC()
	job.State = StateReady
	job.Progress = 100
	job.StoragePath = artifact.StoragePath
	job.ManifestPath = artifact.ManifestPath
	job.ManifestHash = artifact.ManifestHash
	job.Manifest = artifact.Manifest
	job.ErrorCode = ""
	job.ErrorID = ""
	job.ErrorMessage = ""
	job.FailureReason = ""
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// RecordFailure increments the failure count and requeues or fails the job.
func (s *InMemoryJobStore) RecordFailure(ctx context.Context, id string, failure Failure) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	now := time.Now().UTC()
	job.FailureCount++
	job.ErrorCode = failure.Code
	job.ErrorID = failure.ErrorID
	job.ErrorMessage = failure.Message
	job.FailureReason = failure.Reason
	job.UpdatedAt = now
	if job.FailureCount >= MaxFailureCount {
		job.State = StateFailed
		job.CompletedAt = &now
	} else {
		job.State = StateQueued
		job.Progress = 0
	}
	return job.State, nil
}

// Cancel marks a job canceled. Allowed only from queued or preparing.
func (s *InMemoryJobStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateQueued && job.State != StatePreparing {
		return ErrNotCancelable
	}
	now := time.Now().UTC()
	job.State = StateCanceled
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// ReadyCompletedBefore returns ready jobs completed at or before cutoff.
func (s *InMemoryJobStore) ReadyCompletedBefore(ctx context.Context, orgID string, cutoff time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*Job
	for _, job := range s.jobs {
		if job.OrganizationID != orgID || job.State != StateReady {
			continue
		}
		if job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		results = append(results, cloneJob(job))
	}
	return results, nil
}

// TerminalBefore returns failed and canceled jobs created at or before cutoff.
func (s *InMemoryJobStore) TerminalBefore(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*Job
	for _, job := range s.jobs {
		if job.State != StateFailed && job.State != StateCanceled {
			continue
		}
		if job.CreatedAt.After(cutoff) {
			continue
		}
		results = append(results, cloneJob(job))
	}
	return results, nil
}

// MarkExpired marks a ready job expired; the row is retained.
func (s *InMemoryJobStore) MarkExpired(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.State = StateExpired
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete hard-deletes a job row.
func (s *InMemoryJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}
