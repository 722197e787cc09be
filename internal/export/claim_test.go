package export

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewClaimerPrefersAtomicStore(t *testing.T) {
	claimer := NewClaimer(NewInMemoryJobStore(), 4, false, slog.Default())
	if _, ok := claimer.(*AtomicClaimer); !ok {
		t.Errorf("expected AtomicClaimer for an atomic-capable store, got %T", claimer)
	}
}

func TestNewClaimerFallsBackToOptimistic(t *testing.T) {
	claimer := NewClaimer(newPlainStore(NewInMemoryJobStore()), 4, false, slog.Default())
	if _, ok := claimer.(*OptimisticClaimer); !ok {
		t.Errorf("expected OptimisticClaimer for a plain store, got %T", claimer)
	}
}

func TestNewClaimerRefusesWhenAtomicRequired(t *testing.T) {
	store := NewInMemoryJobStore()
	insertQueuedJob(t, store, "job-1", "org-1")
	claimer := NewClaimer(newPlainStore(store), 4, true, slog.Default())

	job, err := claimer.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job != nil {
		t.Error("refusing claimer must never claim a job")
	}
}

func TestOptimisticClaimerClaimsOldest(t *testing.T) {
	store := NewInMemoryJobStore()
	insertQueuedJob(t, store, "job-1", "org-1")
	claimer := &OptimisticClaimer{store: newPlainStore(store), maxActive: 4, logger: slog.Default()}

	job, err := claimer.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job == nil || job.ID != "job-1" {
		t.Fatalf("expected job-1 claimed, got %+v", job)
	}
	if job.State != StatePreparing {
		t.Errorf("expected claimed job in preparing, got %s", job.State)
	}
}

func TestOptimisticClaimerRespectsActiveCap(t *testing.T) {
	store := NewInMemoryJobStore()
	insertQueuedJob(t, store, "job-1", "org-1")
	insertQueuedJob(t, store, "job-2", "org-1")
	claimer := &OptimisticClaimer{store: newPlainStore(store), maxActive: 1, logger: slog.Default()}
	ctx := context.Background()

	first, err := claimer.Claim(ctx)
	if err != nil || first == nil {
		t.Fatalf("expected first claim to succeed, got job=%v err=%v", first, err)
	}
	second, err := claimer.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if second != nil {
		t.Errorf("expected nil claim at the active cap, claimed %s", second.ID)
	}
}

func TestOptimisticClaimerLostRaceReturnsNil(t *testing.T) {
	store := NewInMemoryJobStore()
	insertQueuedJob(t, store, "job-1", "org-1")
	racing := &racingStore{JobStore: newPlainStore(store), inner: store}
	claimer := &OptimisticClaimer{store: racing, maxActive: 0, logger: slog.Default()}

	job, err := claimer.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil after losing the claim race, got %s", job.ID)
	}
}

// newPlainStore strips the AtomicClaimStore method set so the optimistic
// claimer's store field accepts the in-memory implementation.
func newPlainStore(store *InMemoryJobStore) JobStore {
	type plain struct{ JobStore }
	return plain{store}
}

// racingStore simulates another process claiming the candidate between the
// read and the conditional update.
type racingStore struct {
	JobStore
	inner *InMemoryJobStore
}

func (s *racingStore) OldestQueued(ctx context.Context) (*Job, error) {
	candidate, err := s.JobStore.OldestQueued(ctx)
	if err != nil || candidate == nil {
		return candidate, err
	}
	if _, err := s.inner.TryClaim(ctx, candidate.ID); err != nil {
		return nil, err
	}
	return candidate, nil
}
