package export

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrJobNotFound is returned when a job does not exist.
	ErrJobNotFound = errors.New("export job not found")
	// ErrNotCancelable is returned when cancellation is requested for a job
	// that is past preparing or already terminal.
	ErrNotCancelable = errors.New("export job is not cancelable")
)

// ReadyArtifact holds the immutable artifact fields recorded when a job
// reaches ready.
type ReadyArtifact struct {
	StoragePath  string
	ManifestPath string
	ManifestHash string
	Manifest     *Manifest
}

// JobStore is the persistence contract for export jobs.
//
// A note on late terminal writes: a worker that lost a cancellation race may
// call MarkReady or RecordFailure on a canceled row and overwrite canceled.
// That matches the reference behavior and is deliberate; see DESIGN.md.
type JobStore interface {
	// Insert stores a new job. The job is created externally in state queued.
	Insert(ctx context.Context, job *Job) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id string) (*Job, error)

	// OldestQueued returns the oldest queued job, or nil when none exists.
	// Used by the optimistic claim path; the returned row may be claimed by
	// another process before TryClaim runs.
	OldestQueued(ctx context.Context) (*Job, error)

	// CountActive returns how many jobs are in preparing/generating/uploading.
	CountActive(ctx context.Context) (int, error)

	// TryClaim conditionally transitions a job from queued to preparing.
	// Returns false with no error when another process won the race.
	TryClaim(ctx context.Context, id string) (bool, error)

	// SetState updates the job's state and progress.
	SetState(ctx context.Context, id string, state State, progress int) error

	// MarkReady records the terminal success state with its artifact fields.
	MarkReady(ctx context.Context, id string, artifact ReadyArtifact) error

	// RecordFailure increments the failure count, stores the classified
	// failure, and transitions the job to queued (retry) or failed
	// (poison-pill cutoff reached). Returns the resulting state.
	RecordFailure(ctx context.Context, id string, failure Failure) (State, error)

	// Cancel marks a job canceled. Allowed only from queued or preparing;
	// the worker never calls this.
	Cancel(ctx context.Context, id string) error

	// ReadyCompletedBefore returns ready jobs for an organization whose
	// CompletedAt is at or before cutoff (inclusive boundary).
	ReadyCompletedBefore(ctx context.Context, orgID string, cutoff time.Time) ([]*Job, error)

	// TerminalBefore returns failed and canceled jobs created at or before
	// cutoff.
	TerminalBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)

	// MarkExpired marks a ready job expired after its blobs are reclaimed.
	// The row is retained.
	MarkExpired(ctx context.Context, id string) error

	// Delete hard-deletes a job row.
	Delete(ctx context.Context, id string) error
}

// AtomicClaimStore is implemented by stores whose backend can select, lock,
// and transition the oldest queued row in one server-side operation, making
// concurrent claimers skip rows locked by another caller.
type AtomicClaimStore interface {
	// ClaimOldestQueued atomically claims the oldest queued job, respecting
	// the active-job cap. Returns nil when nothing is claimable.
	ClaimOldestQueued(ctx context.Context, maxActive int) (*Job, error)
}
