// Package export implements the asynchronous compliance export pipeline: a
// persisted job queue, a crash-safe claiming worker, artifact rendering and
// bundling, and content-addressable manifests.
package export

import (
	"time"
)

// State is the export job lifecycle state.
type State string

// Export job states. Transitions: queued -> preparing -> generating ->
// uploading -> ready; generating -> queued is the bounded-retry edge; queued
// -> failed is terminal once the retry budget is spent; ready -> expired is
// set only by the retention worker; canceled is set only by an external actor
// from queued or preparing.
const (
	StateQueued     State = "queued"
	StatePreparing  State = "preparing"
	StateGenerating State = "generating"
	StateUploading  State = "uploading"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
	StateExpired    State = "expired"
)

// Active reports whether the state occupies a worker slot.
func (s State) Active() bool {
	return s == StatePreparing || s == StateGenerating || s == StateUploading
}

// Terminal reports whether no further worker transitions apply.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed || s == StateCanceled || s == StateExpired
}

// Type identifies which renderer produces the export.
type Type string

// Export types.
const (
	TypeProofPack      Type = "proof_pack"
	TypeLedger         Type = "ledger"
	TypeExecutiveBrief Type = "executive_brief"
	TypeBulkJobs       Type = "bulk_jobs"
)

// ValidType reports whether t is a known export type.
func ValidType(t Type) bool {
	switch t {
	case TypeProofPack, TypeLedger, TypeExecutiveBrief, TypeBulkJobs:
		return true
	}
	return false
}

// MaxFailureCount is the poison-pill cutoff: a job reaching this many
// failures becomes terminally failed instead of requeueing.
const MaxFailureCount = 3

// Job is one requested export. Rows are created externally (API insert),
// mutated only by the worker, and removed or marked expired only by the
// retention worker. Once ready, artifact fields are immutable.
type Job struct {
	ID             string
	OrganizationID string
	ExportType     Type
	WorkRecordID   *string
	Filters        map[string]string
	State          State
	Progress       int
	FailureCount   int
	ErrorCode      string
	ErrorID        string
	ErrorMessage   string
	FailureReason  string
	StoragePath    string
	ManifestPath   string
	ManifestHash   string
	Manifest       *Manifest
	CreatedBy      string
	RequestID      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ManifestVersion is the current manifest document version.
const ManifestVersion = 1

// Manifest is the self-describing integrity document uploaded alongside each
// artifact bundle. The manifest JSON is itself hashed (Job.ManifestHash),
// giving the bundle an integrity check independent of the ledger.
type Manifest struct {
	Version        int            `json:"version"`
	GeneratedAt    time.Time      `json:"generated_at"`
	OrganizationID string         `json:"organization_id"`
	WorkRecordID   *string        `json:"work_record_id,omitempty"`
	Filters        map[string]string `json:"filters,omitempty"`
	Files          []ManifestFile `json:"files"`
}

// ManifestFile is one hashed file in a manifest.
type ManifestFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Hash string `json:"hash"`
}

// Failure carries the classified outcome of one failed attempt.
type Failure struct {
	Code    string // machine-readable error code
	Reason  string // user-facing actionable failure reason
	Message string // internal error detail
	ErrorID string // correlation id for support, set for generic failures
}

// cloneJob returns a deep copy to prevent external modification.
func cloneJob(job *Job) *Job {
	copied := *job
	if job.WorkRecordID != nil {
		id := *job.WorkRecordID
		copied.WorkRecordID = &id
	}
	if job.Filters != nil {
		filters := make(map[string]string, len(job.Filters))
		for k, v := range job.Filters {
			filters[k] = v
		}
		copied.Filters = filters
	}
	if job.Manifest != nil {
		manifest := *job.Manifest
		manifest.Files = append([]ManifestFile(nil), job.Manifest.Files...)
		copied.Manifest = &manifest
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		copied.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}
