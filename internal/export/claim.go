package export

import (
	"context"
	"log/slog"
)

// Claimer selects and claims the next export job to process. Implementations
// must guarantee that across concurrent callers at most one claims a given
// row, and that no more than maxActive jobs are active at once.
type Claimer interface {
	// Claim returns the claimed job already transitioned to preparing, or
	// nil when nothing is claimable this cycle. Losing a race is not an
	// error; callers back off to the next cycle.
	Claim(ctx context.Context) (*Job, error)
}

// NewClaimer selects the claim strategy for the given store. The atomic
// backend is preferred whenever the store supports it. When requireAtomic is
// set and the store cannot claim atomically, the returned claimer refuses to
// process anything rather than risk duplicate claims.
func NewClaimer(store JobStore, maxActive int, requireAtomic bool, logger *slog.Logger) Claimer {
	if logger == nil {
		logger = slog.Default()
	}
	if atomic, ok := store.(AtomicClaimStore); ok {
		return &AtomicClaimer{store: atomic, maxActive: maxActive}
	}
	if requireAtomic {
		return &refusingClaimer{logger: logger}
	}
	return &OptimisticClaimer{store: store, maxActive: maxActive, logger: logger}
}

// AtomicClaimer claims via a single server-side operation that selects,
// locks, and transitions the oldest queued row.
type AtomicClaimer struct {
	store     AtomicClaimStore
	maxActive int
}

// Claim claims the oldest queued job under the active cap.
func (c *AtomicClaimer) Claim(ctx context.Context) (*Job, error) {
	return c.store.ClaimOldestQueued(ctx, c.maxActive)
}

// OptimisticClaimer claims with a read followed by a conditional update.
// Zero rows affected means another process won the race; the claimer backs
// off and the caller retries next cycle.
type OptimisticClaimer struct {
	store     JobStore
	maxActive int
	logger    *slog.Logger
}

// Claim reads the oldest queued candidate and conditionally claims it.
func (c *OptimisticClaimer) Claim(ctx context.Context) (*Job, error) {
	if c.maxActive > 0 {
		active, err := c.store.CountActive(ctx)
		if err != nil {
			return nil, err
		}
		if active >= c.maxActive {
			return nil, nil
		}
	}
	candidate, err := c.store.OldestQueued(ctx)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}
	claimed, err := c.store.TryClaim(ctx, candidate.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		c.logger.Debug("lost claim race, backing off", "job_id", candidate.ID)
		return nil, nil
	}
	return c.store.Get(ctx, candidate.ID)
}

// refusingClaimer is installed when the operator requires the atomic claim
// path but the configured store cannot provide it. It never claims and logs
// loudly every cycle so the misconfiguration cannot go unnoticed.
type refusingClaimer struct {
	logger *slog.Logger
}

func (c *refusingClaimer) Claim(ctx context.Context) (*Job, error) {
	c.logger.Error("atomic claim required but store does not support it; refusing to process export jobs")
	return nil, nil
}
