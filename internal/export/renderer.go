package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sitewardhq/siteward/internal/ledger"
	"github.com/sitewardhq/siteward/internal/workrecord"
)

// Renderer errors. The worker's failure classifier distinguishes unmet
// user-fixable preconditions from rendering faults.
var (
	// ErrNotReady means the export's preconditions are unmet (missing
	// evidence, unconfigured hazards, incomplete controls). User-fixable.
	ErrNotReady = errors.New("export preconditions not met")
	// ErrRender wraps internal rendering faults.
	ErrRender = errors.New("render error")
)

// RenderInput is the scope a renderer works from. Renderers are strictly
// scoped to the input's organization.
type RenderInput struct {
	OrganizationID string
	WorkRecordID   *string
	Filters        map[string]string
	GeneratedAt    time.Time
}

// File is one rendered byte buffer with the metadata the manifest records.
type File struct {
	Name        string
	Type        string
	ContentType string
	Data        []byte
}

// Renderer produces the byte buffers for one export type.
type Renderer interface {
	Render(ctx context.Context, input RenderInput) ([]File, error)
}

// NewRenderers returns the renderer for each export type.
func NewRenderers(records workrecord.Source, events ledger.Repository) map[Type]Renderer {
	return map[Type]Renderer{
		TypeProofPack:      &ProofPackRenderer{Records: records, Events: events},
		TypeLedger:         &LedgerRenderer{Events: events},
		TypeExecutiveBrief: &ExecutiveBriefRenderer{Records: records},
		TypeBulkJobs:       &BulkJobsRenderer{Records: records},
	}
}

// auditTrailLimit caps how many ledger events a proof pack embeds.
const auditTrailLimit = 1000

// ProofPackRenderer produces the multi-file evidence bundle for a single
// work record: the record with its readiness snapshot, an index of uploaded
// evidence, and the record's audit trail.
type ProofPackRenderer struct {
	Records workrecord.Source
	Events  ledger.Repository
}

// Render renders the proof-pack file set. Returns ErrNotReady when the work
// record's compliance preconditions are unmet.
func (r *ProofPackRenderer) Render(ctx context.Context, input RenderInput) ([]File, error) {
	if input.WorkRecordID == nil {
		return nil, fmt.Errorf("%w: proof pack requires a work record", ErrNotReady)
	}
	workRecordID := *input.WorkRecordID

	readiness, err := r.Records.GetReadiness(ctx, input.OrganizationID, workRecordID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	if !readiness.Ready() {
		return nil, ErrNotReady
	}

	record, err := r.Records.GetWorkRecord(ctx, input.OrganizationID, workRecordID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	evidence, err := r.Records.ListEvidence(ctx, input.OrganizationID, workRecordID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	trail, err := r.Events.QueryByTarget(ctx, input.OrganizationID, "work_record", workRecordID, auditTrailLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	recordDoc, err := marshalJSON(map[string]any{
		"work_record": record,
		"readiness":   readiness,
	})
	if err != nil {
		return nil, err
	}
	evidenceDoc, err := marshalJSON(evidence)
	if err != nil {
		return nil, err
	}
	trailDoc, err := renderEventsCSV(trail)
	if err != nil {
		return nil, err
	}

	return []File{
		{Name: "work_record.json", Type: "json", ContentType: "application/json", Data: recordDoc},
		{Name: "evidence_index.json", Type: "json", ContentType: "application/json", Data: evidenceDoc},
		{Name: "audit_trail.csv", Type: "csv", ContentType: "text/csv", Data: trailDoc},
	}, nil
}

// defaultLedgerWindowDays is the export window when no date filters are set.
const defaultLedgerWindowDays = 30

// LedgerRenderer produces a single CSV document of an organization's audit
// events across a date range taken from the job filters ("from"/"to",
// YYYY-MM-DD, inclusive).
type LedgerRenderer struct {
	Events ledger.Repository
}

// Render renders the ledger CSV.
func (r *LedgerRenderer) Render(ctx context.Context, input RenderInput) ([]File, error) {
	from, to, err := ledgerWindow(input.Filters, input.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	var events []*ledger.AuditEvent
	for day := from; !day.After(to); day = day.Add(24 * time.Hour) {
		dayEvents, err := r.Events.QueryByDay(ctx, input.OrganizationID, day)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRender, err)
		}
		events = append(events, dayEvents...)
	}

	doc, err := renderEventsCSV(events)
	if err != nil {
		return nil, err
	}
	return []File{
		{Name: "audit_ledger.csv", Type: "csv", ContentType: "text/csv", Data: doc},
	}, nil
}

func ledgerWindow(filters map[string]string, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -defaultLedgerWindowDays)
	if raw, ok := filters["from"]; ok && raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from filter %q: %w", raw, err)
		}
		from = parsed
	}
	if raw, ok := filters["to"]; ok && raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to filter %q: %w", raw, err)
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to filter precedes from filter")
	}
	return from, to, nil
}

// ExecutiveBriefRenderer produces a single JSON summary document of an
// organization's work record portfolio.
type ExecutiveBriefRenderer struct {
	Records workrecord.Source
}

// Render renders the executive brief.
func (r *ExecutiveBriefRenderer) Render(ctx context.Context, input RenderInput) ([]File, error) {
	records, err := r.Records.ListWorkRecords(ctx, input.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	byStatus := make(map[string]int)
	for _, record := range records {
		byStatus[record.Status]++
	}
	doc, err := marshalJSON(map[string]any{
		"organization_id":        input.OrganizationID,
		"generated_at":           input.GeneratedAt.UTC(),
		"work_record_count":      len(records),
		"work_records_by_status": byStatus,
	})
	if err != nil {
		return nil, err
	}
	return []File{
		{Name: "executive_brief.json", Type: "json", ContentType: "application/json", Data: doc},
	}, nil
}

// BulkJobsRenderer produces the multi-file bulk dump: every work record and
// every evidence item in the organization as CSV.
type BulkJobsRenderer struct {
	Records workrecord.Source
}

// Render renders the bulk-jobs file set.
func (r *BulkJobsRenderer) Render(ctx context.Context, input RenderInput) ([]File, error) {
	records, err := r.Records.ListWorkRecords(ctx, input.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	var recordsBuf bytes.Buffer
	recordsWriter := csv.NewWriter(&recordsBuf)
	if err := recordsWriter.Write([]string{"id", "title", "status", "created_at"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	var evidenceBuf bytes.Buffer
	evidenceWriter := csv.NewWriter(&evidenceBuf)
	if err := evidenceWriter.Write([]string{"work_record_id", "evidence_id", "file_name", "content_type", "uploaded_at"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	for _, record := range records {
		row := []string{record.ID, record.Title, record.Status, record.CreatedAt.UTC().Format(time.RFC3339)}
		if err := recordsWriter.Write(row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRender, err)
		}
		evidence, err := r.Records.ListEvidence(ctx, input.OrganizationID, record.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRender, err)
		}
		for _, item := range evidence {
			row := []string{record.ID, item.ID, item.FileName, item.ContentType, item.UploadedAt.UTC().Format(time.RFC3339)}
			if err := evidenceWriter.Write(row); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRender, err)
			}
		}
	}
	recordsWriter.Flush()
	evidenceWriter.Flush()
	if err := recordsWriter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	if err := evidenceWriter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	return []File{
		{Name: "work_records.csv", Type: "csv", ContentType: "text/csv", Data: recordsBuf.Bytes()},
		{Name: "evidence.csv", Type: "csv", ContentType: "text/csv", Data: evidenceBuf.Bytes()},
	}, nil
}

func renderEventsCSV(events []*ledger.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{"ledger_seq", "created_at", "event_name", "actor_id",
		"target_type", "target_id", "category", "outcome", "severity", "hash"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	for _, event := range events {
		row := []string{
			strconv.FormatInt(event.LedgerSeq, 10),
			event.CreatedAt.UTC().Format(time.RFC3339Nano),
			event.EventName,
			event.ActorID,
			event.TargetType,
			event.TargetID,
			event.Category,
			event.Outcome,
			event.Severity,
			event.Hash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRender, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return data, nil
}
