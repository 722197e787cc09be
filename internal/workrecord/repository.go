package workrecord

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a work record does not exist in the caller's
// organization scope.
var ErrNotFound = errors.New("work record not found")

// Source provides the read-side data export renderers and the failure
// classifier need. All methods are scoped by organization; implementations
// must never return rows from another tenant.
type Source interface {
	// GetReadiness returns the compliance readiness for one work record.
	GetReadiness(ctx context.Context, orgID, workRecordID string) (*Readiness, error)

	// GetWorkRecord returns one work record.
	GetWorkRecord(ctx context.Context, orgID, workRecordID string) (*WorkRecord, error)

	// ListWorkRecords returns all work records for an organization, ordered
	// by creation time.
	ListWorkRecords(ctx context.Context, orgID string) ([]*WorkRecord, error)

	// ListEvidence returns the evidence items for a work record, ordered by
	// file name for deterministic bundling.
	ListEvidence(ctx context.Context, orgID, workRecordID string) ([]*EvidenceItem, error)
}

// InMemorySource is an in-memory implementation of Source.
// Used for testing and development. Thread-safe via RWMutex.
type InMemorySource struct {
	mu        sync.RWMutex
	records   map[string]*WorkRecord
	readiness map[string]*Readiness
	evidence  map[string][]*EvidenceItem
}

// NewInMemorySource creates a new in-memory work record source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		records:   make(map[string]*WorkRecord),
		readiness: make(map[string]*Readiness),
		evidence:  make(map[string][]*EvidenceItem),
	}
}

// PutWorkRecord stores a work record with its readiness snapshot.
func (s *InMemorySource) PutWorkRecord(record *WorkRecord, readiness *Readiness) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordCopy := *record
	s.records[record.ID] = &recordCopy
	if readiness != nil {
		readinessCopy := *readiness
		s.readiness[record.ID] = &readinessCopy
	}
}

// PutEvidence stores evidence items for a work record.
func (s *InMemorySource) PutEvidence(workRecordID string, items []*EvidenceItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]*EvidenceItem, len(items))
	for i, item := range items {
		itemCopy := *item
		copied[i] = &itemCopy
	}
	s.evidence[workRecordID] = copied
}

// SetReadiness replaces the readiness snapshot for a work record.
func (s *InMemorySource) SetReadiness(workRecordID string, readiness *Readiness) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *readiness
	s.readiness[workRecordID] = &copied
}

// GetReadiness returns the compliance readiness for one work record.
func (s *InMemorySource) GetReadiness(ctx context.Context, orgID, workRecordID string) (*Readiness, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[workRecordID]
	if !ok || record.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	readiness, ok := s.readiness[workRecordID]
	if !ok {
		return &Readiness{WorkRecordID: workRecordID}, nil
	}
	copied := *readiness
	return &copied, nil
}

// GetWorkRecord returns one work record.
func (s *InMemorySource) GetWorkRecord(ctx context.Context, orgID, workRecordID string) (*WorkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[workRecordID]
	if !ok || record.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

// ListWorkRecords returns all work records for an organization.
func (s *InMemorySource) ListWorkRecords(ctx context.Context, orgID string) ([]*WorkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*WorkRecord
	for _, record := range s.records {
		if record.OrganizationID != orgID {
			continue
		}
		copied := *record
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// ListEvidence returns evidence items for a work record, ordered by file name.
func (s *InMemorySource) ListEvidence(ctx context.Context, orgID, workRecordID string) ([]*EvidenceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[workRecordID]
	if !ok || record.OrganizationID != orgID {
		return nil, ErrNotFound
	}

	items := s.evidence[workRecordID]
	results := make([]*EvidenceItem, len(items))
	for i, item := range items {
		copied := *item
		results[i] = &copied
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].FileName < results[j].FileName
	})
	return results, nil
}
