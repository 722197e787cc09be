package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL with full
// transaction support. Sequence numbers come from a per-organization counter
// row updated in the same transaction as the event insert, so assignment is
// atomic and strictly increasing.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Append inserts a new event with an atomically assigned sequence number.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) (*AuditEvent, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	event := newEvent(entry, time.Now())

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction",
				slog.String("error", err.Error()))
		}
	}()

	// The counter row serializes concurrent appends for the same organization;
	// appends for different organizations do not contend.
	seqQuery := `
		INSERT INTO ledger_sequences (organization_id, next_seq)
		VALUES ($1, 1)
		ON CONFLICT (organization_id)
		DO UPDATE SET next_seq = ledger_sequences.next_seq + 1
		RETURNING next_seq
	`
	if err := tx.QueryRowContext(ctx, seqQuery, event.OrganizationID).Scan(&event.LedgerSeq); err != nil {
		return nil, fmt.Errorf("failed to assign ledger sequence: %w", err)
	}

	event.Hash = event.ComputeHash()

	insertQuery := `
		INSERT INTO audit_events
			(id, organization_id, ledger_seq, event_name, actor_id, target_type,
			 target_id, category, outcome, severity, metadata, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, insertQuery,
		event.ID, event.OrganizationID, event.LedgerSeq, event.EventName,
		event.ActorID, event.TargetType, event.TargetID, event.Category,
		event.Outcome, event.Severity, metadata, event.Hash, event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit event: %w", err)
	}

	return event, nil
}

// QueryByDay retrieves events for an organization on a UTC day, ordered by
// sequence number.
func (r *PostgresRepository) QueryByDay(ctx context.Context, orgID string, day time.Time) ([]*AuditEvent, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT id, organization_id, ledger_seq, event_name, actor_id, target_type,
		       target_id, category, outcome, severity, metadata, hash, created_at
		FROM audit_events
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY ledger_seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, orgID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by day: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// QueryByTarget retrieves events for a specific target, newest first.
func (r *PostgresRepository) QueryByTarget(ctx context.Context, orgID, targetType, targetID string, limit int) ([]*AuditEvent, error) {
	query := `
		SELECT id, organization_id, ledger_seq, event_name, actor_id, target_type,
		       target_id, category, outcome, severity, metadata, hash, created_at
		FROM audit_events
		WHERE organization_id = $1 AND target_type = $2 AND target_id = $3
		ORDER BY ledger_seq DESC
	`
	args := []any{orgID, targetType, targetID}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by target: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// OrganizationsWithEvents returns organizations with at least one event on the
// given UTC day.
func (r *PostgresRepository) OrganizationsWithEvents(ctx context.Context, day time.Time) ([]string, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT DISTINCT organization_id
		FROM audit_events
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY organization_id
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations with events: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]*AuditEvent, error) {
	var events []*AuditEvent
	for rows.Next() {
		event := &AuditEvent{}
		var metadata []byte
		err := rows.Scan(&event.ID, &event.OrganizationID, &event.LedgerSeq,
			&event.EventName, &event.ActorID, &event.TargetType, &event.TargetID,
			&event.Category, &event.Outcome, &event.Severity, &metadata,
			&event.Hash, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
