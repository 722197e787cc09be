package ledger

import (
	"context"
	"log/slog"
)

// Writer appends audit events on behalf of mutating operations. A failed
// append must not block the caller's primary operation, so callers that
// cannot tolerate ledger downtime use BestEffort.
type Writer struct {
	repo   Repository
	logger *slog.Logger
}

// NewWriter creates a new ledger writer.
func NewWriter(repo Repository, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{repo: repo, logger: logger}
}

// Append records an event and returns it. Validation and persistence errors
// are returned to the caller.
func (w *Writer) Append(ctx context.Context, entry Entry) (*AuditEvent, error) {
	return w.repo.Append(ctx, entry)
}

// BestEffort records an event, logging instead of returning on failure. Used
// where the ledger write rides along with another operation whose outcome must
// not depend on ledger availability (e.g. an export's terminal row update).
func (w *Writer) BestEffort(ctx context.Context, entry Entry) {
	if _, err := w.repo.Append(ctx, entry); err != nil {
		w.logger.Error("ledger append failed",
			"event_name", entry.EventName,
			"organization_id", entry.OrganizationID,
			"target_id", entry.TargetID,
			"error", err)
	}
}
