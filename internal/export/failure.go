package export

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/sitewardhq/siteward/internal/blob"
	"github.com/sitewardhq/siteward/internal/workrecord"
)

// Machine-readable failure codes stored on the job row.
const (
	CodeMissingEvidence     = "missing_evidence"
	CodeUnconfiguredHazards = "unconfigured_hazards"
	CodeIncompleteControls  = "incomplete_controls"
	CodeTimeout             = "timeout"
	CodeStorage             = "storage_error"
	CodeRender              = "render_error"
	CodeInternal            = "internal_error"
)

// FailureClassifier turns an attempt error into the Failure recorded on the
// job row. Classification order is load-bearing: export-type-specific
// user-fixable preconditions win over infrastructure classification, which
// wins over the generic fallback. The failure_reason is the only channel
// back to the requester, so the most actionable message must always win.
type FailureClassifier struct {
	Records workrecord.Source
}

// Classify builds the Failure for one failed attempt.
func (c *FailureClassifier) Classify(ctx context.Context, job *Job, attemptErr error) Failure {
	if failure, ok := c.classifyPreconditions(ctx, job, attemptErr); ok {
		return failure
	}
	if failure, ok := classifyInfrastructure(attemptErr); ok {
		return failure
	}
	errorID := uuid.New().String()
	return Failure{
		Code:    CodeInternal,
		Reason:  fmt.Sprintf("Export failed unexpectedly. Contact support with reference %s.", errorID),
		Message: attemptErr.Error(),
		ErrorID: errorID,
	}
}

// classifyPreconditions re-reads the work record's readiness and reports the
// first unmet precondition in actionable language.
func (c *FailureClassifier) classifyPreconditions(ctx context.Context, job *Job, attemptErr error) (Failure, bool) {
	if job.ExportType != TypeProofPack || job.WorkRecordID == nil {
		return Failure{}, false
	}
	if !errors.Is(attemptErr, ErrNotReady) {
		return Failure{}, false
	}
	readiness, err := c.Records.GetReadiness(ctx, job.OrganizationID, *job.WorkRecordID)
	if err != nil {
		return Failure{}, false
	}
	if missing := readiness.MissingEvidence(); missing > 0 {
		return Failure{
			Code:    CodeMissingEvidence,
			Reason:  fmt.Sprintf("Missing %d evidence %s. Upload photos before generating proof pack.", missing, pluralize(missing, "item", "items")),
			Message: attemptErr.Error(),
		}, true
	}
	if readiness.UnconfiguredHazards > 0 {
		return Failure{
			Code:    CodeUnconfiguredHazards,
			Reason:  fmt.Sprintf("%d %s no controls configured. Configure controls before generating proof pack.", readiness.UnconfiguredHazards, pluralize(readiness.UnconfiguredHazards, "hazard has", "hazards have")),
			Message: attemptErr.Error(),
		}, true
	}
	if readiness.IncompleteControls > 0 {
		return Failure{
			Code:    CodeIncompleteControls,
			Reason:  fmt.Sprintf("%d %s incomplete. Complete all controls before generating proof pack.", readiness.IncompleteControls, pluralize(readiness.IncompleteControls, "control is", "controls are")),
			Message: attemptErr.Error(),
		}, true
	}
	return Failure{}, false
}

func classifyInfrastructure(attemptErr error) (Failure, bool) {
	var netErr net.Error
	if errors.Is(attemptErr, context.DeadlineExceeded) ||
		(errors.As(attemptErr, &netErr) && netErr.Timeout()) {
		return Failure{
			Code:    CodeTimeout,
			Reason:  "Export timed out. It will be retried automatically.",
			Message: attemptErr.Error(),
		}, true
	}
	if errors.As(attemptErr, &netErr) {
		return Failure{
			Code:    CodeTimeout,
			Reason:  "A network error interrupted the export. It will be retried automatically.",
			Message: attemptErr.Error(),
		}, true
	}
	if errors.Is(attemptErr, blob.ErrStorage) {
		return Failure{
			Code:    CodeStorage,
			Reason:  "Uploading the export artifact failed. It will be retried automatically.",
			Message: attemptErr.Error(),
		}, true
	}
	if errors.Is(attemptErr, ErrRender) {
		return Failure{
			Code:    CodeRender,
			Reason:  "Generating the export document failed. It will be retried automatically.",
			Message: attemptErr.Error(),
		}, true
	}
	return Failure{}, false
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
