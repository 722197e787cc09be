package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrRootNotFound is returned when no root exists for an (organization, date).
var ErrRootNotFound = errors.New("ledger root not found")

// LedgerRoot is the per-organization, per-day digest over that day's event
// hashes. It detects retroactive tampering via root mismatch on recomputation;
// it is not a Merkle tree and supports no per-event inclusion proofs. The
// stored root format is part of the tamper-check contract.
type LedgerRoot struct {
	OrganizationID string
	RootDate       time.Time // UTC midnight of the covered day
	RootHash       string
	EventCount     int
	FirstEventID   string
	LastEventID    string
	FirstSeq       int64
	LastSeq        int64
	ComputedAt     time.Time
}

// ComputeRootHash digests a day's event hashes: sorted lexicographically (not
// by sequence, for determinism independent of arrival order), concatenated,
// then SHA-256 hashed.
func ComputeRootHash(eventHashes []string) string {
	sorted := make([]string, len(eventHashes))
	copy(sorted, eventHashes)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}

// RootStore persists computed ledger roots. Upserts are idempotent by
// (organization, date).
type RootStore interface {
	// Upsert stores a root, replacing any existing row for the same key.
	Upsert(ctx context.Context, root *LedgerRoot) error

	// Get retrieves a root by organization and UTC date.
	// Returns ErrRootNotFound if none exists.
	Get(ctx context.Context, orgID string, date time.Time) (*LedgerRoot, error)
}

// InMemoryRootStore is an in-memory implementation of RootStore.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRootStore struct {
	mu    sync.RWMutex
	roots map[string]*LedgerRoot
}

// NewInMemoryRootStore creates a new in-memory root store.
func NewInMemoryRootStore() *InMemoryRootStore {
	return &InMemoryRootStore{roots: make(map[string]*LedgerRoot)}
}

func rootKey(orgID string, date time.Time) string {
	return orgID + "|" + date.UTC().Format("2006-01-02")
}

// Upsert stores a root, replacing any existing row for the same key.
func (s *InMemoryRootStore) Upsert(ctx context.Context, root *LedgerRoot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *root
	s.roots[rootKey(root.OrganizationID, root.RootDate)] = &copied
	return nil
}

// Get retrieves a root by organization and UTC date.
func (s *InMemoryRootStore) Get(ctx context.Context, orgID string, date time.Time) (*LedgerRoot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.roots[rootKey(orgID, date)]
	if !ok {
		return nil, ErrRootNotFound
	}
	copied := *root
	return &copied, nil
}

// PostgresRootStore implements RootStore using PostgreSQL.
type PostgresRootStore struct {
	db *sql.DB
}

// NewPostgresRootStore creates a new PostgresRootStore.
func NewPostgresRootStore(db *sql.DB) *PostgresRootStore {
	return &PostgresRootStore{db: db}
}

// Upsert stores a root, idempotent by the (organization_id, root_date) unique key.
func (s *PostgresRootStore) Upsert(ctx context.Context, root *LedgerRoot) error {
	query := `
		INSERT INTO ledger_roots
			(organization_id, root_date, root_hash, event_count,
			 first_event_id, last_event_id, first_seq, last_seq, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (organization_id, root_date)
		DO UPDATE SET root_hash = EXCLUDED.root_hash,
		              event_count = EXCLUDED.event_count,
		              first_event_id = EXCLUDED.first_event_id,
		              last_event_id = EXCLUDED.last_event_id,
		              first_seq = EXCLUDED.first_seq,
		              last_seq = EXCLUDED.last_seq,
		              computed_at = EXCLUDED.computed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		root.OrganizationID, root.RootDate.UTC(), root.RootHash, root.EventCount,
		root.FirstEventID, root.LastEventID, root.FirstSeq, root.LastSeq,
		root.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger root: %w", err)
	}
	return nil
}

// Get retrieves a root by organization and UTC date.
func (s *PostgresRootStore) Get(ctx context.Context, orgID string, date time.Time) (*LedgerRoot, error) {
	query := `
		SELECT organization_id, root_date, root_hash, event_count,
		       first_event_id, last_event_id, first_seq, last_seq, computed_at
		FROM ledger_roots
		WHERE organization_id = $1 AND root_date = $2
	`
	root := &LedgerRoot{}
	err := s.db.QueryRowContext(ctx, query, orgID, date.UTC().Truncate(24*time.Hour)).Scan(
		&root.OrganizationID, &root.RootDate, &root.RootHash, &root.EventCount,
		&root.FirstEventID, &root.LastEventID, &root.FirstSeq, &root.LastSeq,
		&root.ComputedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRootNotFound
		}
		return nil, fmt.Errorf("failed to get ledger root: %w", err)
	}
	return root, nil
}

// ComputeRoot builds the root for one organization and UTC day from the
// ledger. Returns nil (no error) for days with zero events: empty days record
// no root.
func ComputeRoot(ctx context.Context, repo Repository, orgID string, day time.Time) (*LedgerRoot, error) {
	events, err := repo.QueryByDay(ctx, orgID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events for root: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(events))
	for i, event := range events {
		hashes[i] = event.Hash
	}

	return &LedgerRoot{
		OrganizationID: orgID,
		RootDate:       day.UTC().Truncate(24 * time.Hour),
		RootHash:       ComputeRootHash(hashes),
		EventCount:     len(events),
		FirstEventID:   events[0].ID,
		LastEventID:    events[len(events)-1].ID,
		FirstSeq:       events[0].LedgerSeq,
		LastSeq:        events[len(events)-1].LedgerSeq,
		ComputedAt:     time.Now().UTC(),
	}, nil
}

// VerifyRoot recomputes the digest for a recorded root and reports whether it
// still matches. A mismatch means the day's events were altered after the
// root was computed.
func VerifyRoot(ctx context.Context, repo Repository, store RootStore, orgID string, date time.Time) (bool, error) {
	recorded, err := store.Get(ctx, orgID, date)
	if err != nil {
		return false, err
	}

	recomputed, err := ComputeRoot(ctx, repo, orgID, date)
	if err != nil {
		return false, err
	}
	if recomputed == nil {
		// Events vanished entirely since the root was recorded.
		return false, nil
	}
	return recomputed.RootHash == recorded.RootHash, nil
}
