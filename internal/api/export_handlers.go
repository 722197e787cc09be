package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sitewardhq/siteward/internal/auth"
	"github.com/sitewardhq/siteward/internal/export"
	"github.com/sitewardhq/siteward/internal/ledger"
	"github.com/sitewardhq/siteward/internal/middleware"
)

// ExportHandlers serves the export enqueue and status endpoints. Enqueue is
// fire-and-forget: the job row is the only channel back to the requester.
type ExportHandlers struct {
	store  export.JobStore
	tokens *auth.TokenService
	writer *ledger.Writer
	waker  Waker
	logger *slog.Logger
}

// NewExportHandlers creates the export API handlers.
func NewExportHandlers(store export.JobStore, tokens *auth.TokenService,
	writer *ledger.Writer, waker Waker, logger *slog.Logger) *ExportHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if waker == nil {
		waker = NoopWaker{}
	}
	return &ExportHandlers{
		store:  store,
		tokens: tokens,
		writer: writer,
		waker:  waker,
		logger: logger,
	}
}

// CreateExportRequest is the enqueue request body.
type CreateExportRequest struct {
	ExportType   string            `json:"export_type"`
	WorkRecordID *string           `json:"work_record_id,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
}

// ExportResponse is the job representation returned by the API.
type ExportResponse struct {
	ID            string            `json:"id"`
	ExportType    string            `json:"export_type"`
	WorkRecordID  *string           `json:"work_record_id,omitempty"`
	Filters       map[string]string `json:"filters,omitempty"`
	State         string            `json:"state"`
	Progress      int               `json:"progress"`
	FailureReason string            `json:"failure_reason,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	ErrorID       string            `json:"error_id,omitempty"`
	StoragePath   string            `json:"storage_path,omitempty"`
	ManifestPath  string            `json:"manifest_path,omitempty"`
	ManifestHash  string            `json:"manifest_hash,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

func toExportResponse(job *export.Job) ExportResponse {
	return ExportResponse{
		ID:            job.ID,
		ExportType:    string(job.ExportType),
		WorkRecordID:  job.WorkRecordID,
		Filters:       job.Filters,
		State:         string(job.State),
		Progress:      job.Progress,
		FailureReason: job.FailureReason,
		ErrorCode:     job.ErrorCode,
		ErrorID:       job.ErrorID,
		StoragePath:   job.StoragePath,
		ManifestPath:  job.ManifestPath,
		ManifestHash:  job.ManifestHash,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
	}
}

// authenticate validates the bearer token and returns its claims.
func (h *ExportHandlers) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Missing bearer token")
		return nil, false
	}
	claims, err := h.tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid token")
		return nil, false
	}
	return claims, true
}

// CreateExport handles POST /v1/exports. Inserts a queued job, records the
// request in the ledger, wakes the worker, and returns 202 with the job.
func (h *ExportHandlers) CreateExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ctx := middleware.SetActorID(r.Context(), claims.Subject)

	var req CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	exportType := export.Type(req.ExportType)
	if !export.ValidType(exportType) {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidExportType, "Unknown export type")
		return
	}
	if exportType == export.TypeProofPack && req.WorkRecordID == nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "proof_pack exports require work_record_id")
		return
	}

	job := &export.Job{
		OrganizationID: claims.OrganizationID,
		ExportType:     exportType,
		WorkRecordID:   req.WorkRecordID,
		Filters:        req.Filters,
		State:          export.StateQueued,
		CreatedBy:      claims.Subject,
		RequestID:      middleware.GetRequestID(ctx),
	}
	if err := h.store.Insert(ctx, job); err != nil {
		h.logger.Error("failed to insert export job", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to enqueue export")
		return
	}

	h.writer.BestEffort(ctx, ledger.Entry{
		OrganizationID: claims.OrganizationID,
		ActorID:        claims.Subject,
		EventName:      "export.requested",
		TargetType:     "export_job",
		TargetID:       job.ID,
		Category:       ledger.CategoryExport,
		Metadata: map[string]string{
			"export_type": string(exportType),
			"request_id":  job.RequestID,
		},
	})
	h.waker.Wake(ctx)

	writeJSON(w, http.StatusAccepted, toExportResponse(job))
}

// GetExport handles GET /v1/exports/{id}.
func (h *ExportHandlers) GetExport(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		h.CancelExport(w, r)
		return
	}
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ctx := middleware.SetActorID(r.Context(), claims.Subject)

	id := strings.TrimPrefix(r.URL.Path, "/v1/exports/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Export not found")
		return
	}
	job, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, export.ErrJobNotFound) {
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Export not found")
			return
		}
		h.logger.Error("failed to get export job", "job_id", id, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load export")
		return
	}
	// Cross-tenant reads look identical to missing rows.
	if job.OrganizationID != claims.OrganizationID {
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Export not found")
		return
	}

	writeJSON(w, http.StatusOK, toExportResponse(job))
}

// CancelExport handles DELETE /v1/exports/{id}. Cancellation is allowed only
// while the job is queued or preparing.
func (h *ExportHandlers) CancelExport(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ctx := middleware.SetActorID(r.Context(), claims.Subject)

	id := strings.TrimPrefix(r.URL.Path, "/v1/exports/")
	job, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, export.ErrJobNotFound) {
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Export not found")
			return
		}
		h.logger.Error("failed to get export job", "job_id", id, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load export")
		return
	}
	if job.OrganizationID != claims.OrganizationID {
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Export not found")
		return
	}

	if err := h.store.Cancel(ctx, id); err != nil {
		if errors.Is(err, export.ErrNotCancelable) {
			WriteError(w, ctx, http.StatusConflict, ErrCodeNotCancelable, "Export is already processing or finished")
			return
		}
		h.logger.Error("failed to cancel export job", "job_id", id, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to cancel export")
		return
	}

	h.writer.BestEffort(ctx, ledger.Entry{
		OrganizationID: claims.OrganizationID,
		ActorID:        claims.Subject,
		EventName:      "export.canceled",
		TargetType:     "export_job",
		TargetID:       id,
		Category:       ledger.CategoryExport,
	})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
