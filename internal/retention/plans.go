package retention

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// PlanSource resolves organizations and their plan tiers.
type PlanSource interface {
	// ListOrganizations returns every organization ID.
	ListOrganizations(ctx context.Context) ([]string, error)

	// GetPlanTier returns the organization's plan tier. Implementations
	// return an empty string for unknown organizations; the caller falls
	// back to the starter window.
	GetPlanTier(ctx context.Context, orgID string) (string, error)
}

// InMemoryPlanSource is an in-memory implementation of PlanSource.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryPlanSource struct {
	mu    sync.RWMutex
	tiers map[string]string
}

// NewInMemoryPlanSource creates a new in-memory plan source.
func NewInMemoryPlanSource() *InMemoryPlanSource {
	return &InMemoryPlanSource{tiers: make(map[string]string)}
}

// SetPlanTier stores an organization's plan tier.
func (s *InMemoryPlanSource) SetPlanTier(orgID, tier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[orgID] = tier
}

// ListOrganizations returns every organization ID.
func (s *InMemoryPlanSource) ListOrganizations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgs := make([]string, 0, len(s.tiers))
	for org := range s.tiers {
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// GetPlanTier returns the organization's plan tier.
func (s *InMemoryPlanSource) GetPlanTier(ctx context.Context, orgID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tiers[orgID], nil
}

// PostgresPlanSource reads plan tiers from the organizations table.
type PostgresPlanSource struct {
	db *sql.DB
}

// NewPostgresPlanSource creates a new PostgresPlanSource.
func NewPostgresPlanSource(db *sql.DB) *PostgresPlanSource {
	return &PostgresPlanSource{db: db}
}

// ListOrganizations returns every organization ID.
func (s *PostgresPlanSource) ListOrganizations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

// GetPlanTier returns the organization's plan tier.
func (s *PostgresPlanSource) GetPlanTier(ctx context.Context, orgID string) (string, error) {
	var tier string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_tier FROM organizations WHERE id = $1`, orgID).Scan(&tier)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get plan tier: %w", err)
	}
	return tier, nil
}
