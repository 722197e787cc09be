package workrecord

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSource implements Source using PostgreSQL. Readiness counts are
// derived from the evidence/hazard/control tables in one aggregate query per
// work record.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a new PostgresSource.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// GetReadiness returns the compliance readiness for one work record.
func (s *PostgresSource) GetReadiness(ctx context.Context, orgID, workRecordID string) (*Readiness, error) {
	query := `
		SELECT w.required_evidence_count,
		       (SELECT COUNT(*) FROM evidence_items e WHERE e.work_record_id = w.id),
		       (SELECT COUNT(*) FROM hazards h WHERE h.work_record_id = w.id AND NOT h.configured),
		       (SELECT COUNT(*) FROM controls c WHERE c.work_record_id = w.id AND NOT c.complete)
		FROM work_records w
		WHERE w.id = $1 AND w.organization_id = $2
	`
	readiness := &Readiness{WorkRecordID: workRecordID}
	err := s.db.QueryRowContext(ctx, query, workRecordID, orgID).Scan(
		&readiness.RequiredEvidence, &readiness.PresentEvidence,
		&readiness.UnconfiguredHazards, &readiness.IncompleteControls)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query readiness: %w", err)
	}
	return readiness, nil
}

// GetWorkRecord returns one work record.
func (s *PostgresSource) GetWorkRecord(ctx context.Context, orgID, workRecordID string) (*WorkRecord, error) {
	query := `
		SELECT id, organization_id, title, status, created_at
		FROM work_records
		WHERE id = $1 AND organization_id = $2
	`
	record := &WorkRecord{}
	err := s.db.QueryRowContext(ctx, query, workRecordID, orgID).Scan(
		&record.ID, &record.OrganizationID, &record.Title, &record.Status, &record.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query work record: %w", err)
	}
	return record, nil
}

// ListWorkRecords returns all work records for an organization.
func (s *PostgresSource) ListWorkRecords(ctx context.Context, orgID string) ([]*WorkRecord, error) {
	query := `
		SELECT id, organization_id, title, status, created_at
		FROM work_records
		WHERE organization_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list work records: %w", err)
	}
	defer rows.Close()

	var records []*WorkRecord
	for rows.Next() {
		record := &WorkRecord{}
		if err := rows.Scan(&record.ID, &record.OrganizationID, &record.Title,
			&record.Status, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListEvidence returns evidence items for a work record, ordered by file name.
func (s *PostgresSource) ListEvidence(ctx context.Context, orgID, workRecordID string) ([]*EvidenceItem, error) {
	query := `
		SELECT e.id, e.work_record_id, e.file_name, e.content_type, e.uploaded_at
		FROM evidence_items e
		JOIN work_records w ON w.id = e.work_record_id
		WHERE e.work_record_id = $1 AND w.organization_id = $2
		ORDER BY e.file_name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, workRecordID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var items []*EvidenceItem
	for rows.Next() {
		item := &EvidenceItem{}
		if err := rows.Scan(&item.ID, &item.WorkRecordID, &item.FileName,
			&item.ContentType, &item.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
