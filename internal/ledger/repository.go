package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Validation errors for ledger appends.
var (
	ErrMissingOrganization = errors.New("organization ID cannot be empty")
	ErrMissingEventName    = errors.New("event name cannot be empty")
	ErrMissingActor        = errors.New("actor ID cannot be empty")
)

// Repository defines the interface for ledger persistence. Appends assign
// LedgerSeq atomically with insertion so day-window queries see no gaps once
// all writers have flushed.
type Repository interface {
	// Append inserts a new event and returns it with its assigned sequence
	// number, hash, and timestamp.
	Append(ctx context.Context, entry Entry) (*AuditEvent, error)

	// QueryByDay retrieves all events for an organization with CreatedAt in
	// [day 00:00, day+1 00:00) UTC, ordered by LedgerSeq ascending.
	QueryByDay(ctx context.Context, orgID string, day time.Time) ([]*AuditEvent, error)

	// QueryByTarget retrieves events for a specific target, newest first.
	// Limit of 0 means no limit.
	QueryByTarget(ctx context.Context, orgID, targetType, targetID string, limit int) ([]*AuditEvent, error)

	// OrganizationsWithEvents returns the distinct organization IDs that have
	// at least one event on the given UTC day.
	OrganizationsWithEvents(ctx context.Context, day time.Time) ([]string, error)
}

func validateEntry(entry Entry) error {
	if entry.OrganizationID == "" {
		return ErrMissingOrganization
	}
	if entry.EventName == "" {
		return ErrMissingEventName
	}
	if entry.ActorID == "" {
		return ErrMissingActor
	}
	return nil
}

// newEvent materializes an Entry into an AuditEvent without a sequence number
// or hash; the repository fills those in atomically.
func newEvent(entry Entry, now time.Time) *AuditEvent {
	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	severity := entry.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &AuditEvent{
		ID:             uuid.New().String(),
		OrganizationID: entry.OrganizationID,
		EventName:      entry.EventName,
		ActorID:        entry.ActorID,
		TargetType:     entry.TargetType,
		TargetID:       entry.TargetID,
		Category:       entry.Category,
		Outcome:        outcome,
		Severity:       severity,
		Metadata:       metadata,
		CreatedAt:      now.UTC(),
	}
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events []*AuditEvent
	seqs   map[string]int64
}

// NewInMemoryRepository creates a new in-memory ledger repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		seqs: make(map[string]int64),
	}
}

// Append inserts a new event, assigning the next per-organization sequence
// number under the repository lock.
func (r *InMemoryRepository) Append(ctx context.Context, entry Entry) (*AuditEvent, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	event := newEvent(entry, time.Now())

	r.mu.Lock()
	r.seqs[event.OrganizationID]++
	event.LedgerSeq = r.seqs[event.OrganizationID]
	event.Hash = event.ComputeHash()
	r.events = append(r.events, event)
	r.mu.Unlock()

	copied := copyEvent(event)
	return copied, nil
}

// QueryByDay retrieves events for an organization on a UTC day, ordered by
// sequence number.
func (r *InMemoryRepository) QueryByDay(ctx context.Context, orgID string, day time.Time) ([]*AuditEvent, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AuditEvent
	for _, event := range r.events {
		if event.OrganizationID != orgID {
			continue
		}
		if event.CreatedAt.Before(start) || !event.CreatedAt.Before(end) {
			continue
		}
		results = append(results, copyEvent(event))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].LedgerSeq < results[j].LedgerSeq
	})
	return results, nil
}

// QueryByTarget retrieves events for a specific target, newest first.
func (r *InMemoryRepository) QueryByTarget(ctx context.Context, orgID, targetType, targetID string, limit int) ([]*AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AuditEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		event := r.events[i]
		if event.OrganizationID != orgID || event.TargetType != targetType || event.TargetID != targetID {
			continue
		}
		results = append(results, copyEvent(event))
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// OrganizationsWithEvents returns organizations with at least one event on the
// given UTC day.
func (r *InMemoryRepository) OrganizationsWithEvents(ctx context.Context, day time.Time) ([]string, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var orgs []string
	for _, event := range r.events {
		if event.CreatedAt.Before(start) || !event.CreatedAt.Before(end) {
			continue
		}
		if !seen[event.OrganizationID] {
			seen[event.OrganizationID] = true
			orgs = append(orgs, event.OrganizationID)
		}
	}
	sort.Strings(orgs)
	return orgs, nil
}

// copyEvent returns a copy to prevent external modification of stored events.
func copyEvent(event *AuditEvent) *AuditEvent {
	copied := *event
	if event.Metadata != nil {
		metadata := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			metadata[k] = v
		}
		copied.Metadata = metadata
	}
	return &copied
}
