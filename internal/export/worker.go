package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sitewardhq/siteward/internal/blob"
	"github.com/sitewardhq/siteward/internal/ledger"
	"github.com/sitewardhq/siteward/internal/tracing"
)

const workerJobType = "export_generate"

// DefaultPollInterval is the worker's default claim cycle interval.
const DefaultPollInterval = 5 * time.Second

// WorkerConfig configures the export worker.
type WorkerConfig struct {
	// PollInterval between claim cycles. Defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Bucket receiving artifact and manifest uploads.
	Bucket string
	// Logger for worker activity.
	Logger *slog.Logger
	// Metrics for export pipeline tracking. Optional.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics ledger.JobMetrics
}

// Worker polls for queued export jobs, claims at most one per cycle, renders
// it, uploads the artifact and manifest, and finalizes the row. Every
// lifecycle transition is mirrored into the audit ledger; the terminal row
// update is durable even when its ledger write fails.
type Worker struct {
	config     WorkerConfig
	store      JobStore
	claimer    Claimer
	renderers  map[Type]Renderer
	blobs      blob.Store
	ledger     *ledger.Writer
	classifier *FailureClassifier

	wakeCh chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker creates a new export worker.
func NewWorker(config WorkerConfig, store JobStore, claimer Claimer,
	renderers map[Type]Renderer, blobs blob.Store, writer *ledger.Writer,
	classifier *FailureClassifier) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Worker{
		config:     config,
		store:      store,
		claimer:    claimer,
		renderers:  renderers,
		blobs:      blobs,
		ledger:     writer,
		classifier: classifier,
		wakeCh:     make(chan struct{}, 1),
	}
}

// Start begins the worker loop. Returns immediately; the loop runs in a
// background goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop signals the worker to stop and waits for the current cycle to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Wake requests an immediate claim cycle. Non-blocking; a wake while one is
// already pending is a no-op.
func (w *Worker) Wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// run is the main loop for the worker.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.config.Logger.Info("export worker stopping due to context cancellation")
			return
		case <-w.stopCh:
			w.config.Logger.Info("export worker stopping due to stop signal")
			return
		case <-ticker.C:
			w.Cycle(ctx)
		case <-w.wakeCh:
			w.Cycle(ctx)
		}
	}
}

// Cycle claims at most one queued job and processes it to completion. A
// failed cycle never halts the loop; per-attempt errors are converted into a
// row update on the job itself.
func (w *Worker) Cycle(ctx context.Context) {
	job, err := w.claimer.Claim(ctx)
	if err != nil {
		w.config.Logger.Error("export claim failed", "error", err)
		if w.config.JobMetrics != nil {
			w.config.JobMetrics.IncJobErrors(workerJobType, "claim_error")
		}
		return
	}
	if job == nil {
		return
	}
	if w.config.Metrics != nil {
		w.config.Metrics.IncClaims()
	}
	w.process(ctx, job)
}

// process runs the claimed job through render, upload, and finalize.
func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "export.process")
	tracing.SetAttributes(ctx,
		attribute.String("export.job_id", job.ID),
		attribute.String("export.type", string(job.ExportType)),
		attribute.String("export.organization_id", job.OrganizationID),
	)

	w.config.Logger.Info("export job claimed",
		"job_id", job.ID,
		"export_type", job.ExportType,
		"organization_id", job.OrganizationID,
		"failure_count", job.FailureCount)

	w.ledger.BestEffort(ctx, ledger.Entry{
		OrganizationID: job.OrganizationID,
		ActorID:        "export-worker",
		EventName:      "export.started",
		TargetType:     "export_job",
		TargetID:       job.ID,
		Category:       ledger.CategoryExport,
		Metadata: map[string]string{
			"export_type": string(job.ExportType),
			"request_id":  job.RequestID,
			"attempt":     strconv.Itoa(job.FailureCount + 1),
		},
	})

	err := w.attempt(ctx, job)
	endSpan(err)

	duration := time.Since(start).Seconds()
	if w.config.JobMetrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		w.config.JobMetrics.IncJobsTotal(workerJobType, status)
		w.config.JobMetrics.ObserveJobDuration(workerJobType, duration)
	}
	if err != nil {
		w.recordFailure(ctx, job, err)
	}
}

// attempt performs one generation attempt. Any returned error is classified
// and recorded as a failure on the job row by the caller.
func (w *Worker) attempt(ctx context.Context, job *Job) error {
	if err := w.store.SetState(ctx, job.ID, StateGenerating, 10); err != nil {
		return fmt.Errorf("failed to enter generating: %w", err)
	}

	renderer, ok := w.renderers[job.ExportType]
	if !ok {
		return fmt.Errorf("%w: no renderer for export type %q", ErrRender, job.ExportType)
	}
	files, err := renderer.Render(ctx, RenderInput{
		OrganizationID: job.OrganizationID,
		WorkRecordID:   job.WorkRecordID,
		Filters:        job.Filters,
		GeneratedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: renderer produced no files", ErrRender)
	}

	manifest := &Manifest{
		Version:        ManifestVersion,
		GeneratedAt:    time.Now().UTC(),
		OrganizationID: job.OrganizationID,
		WorkRecordID:   job.WorkRecordID,
		Filters:        job.Filters,
	}
	for _, file := range files {
		manifest.Files = append(manifest.Files, ManifestFile{
			Name: file.Name,
			Type: file.Type,
			Hash: hashBytes(file.Data),
		})
	}

	artifact, err := w.bundle(job, files, manifest)
	if err != nil {
		return err
	}

	if err := w.store.SetState(ctx, job.ID, StateUploading, 50); err != nil {
		return fmt.Errorf("failed to enter uploading: %w", err)
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal manifest: %v", ErrRender, err)
	}
	manifestHash := hashBytes(manifestJSON)

	prefix := fmt.Sprintf("exports/%s/%s", job.OrganizationID, job.ID)
	storagePath := prefix + "/" + artifact.Name
	manifestPath := prefix + "/manifest.json"

	if err := w.blobs.EnsureBucket(ctx, w.config.Bucket); err != nil {
		return err
	}
	if err := w.blobs.Put(ctx, w.config.Bucket, storagePath, artifact.Data, artifact.ContentType); err != nil {
		return err
	}
	if err := w.blobs.Put(ctx, w.config.Bucket, manifestPath, manifestJSON, "application/json"); err != nil {
		return err
	}
	if err := w.store.SetState(ctx, job.ID, StateUploading, 90); err != nil {
		return fmt.Errorf("failed to record upload progress: %w", err)
	}

	// The terminal row update must land even if the ledger is down, so the
	// completion event is appended only after MarkReady succeeds.
	if err := w.store.MarkReady(ctx, job.ID, ReadyArtifact{
		StoragePath:  storagePath,
		ManifestPath: manifestPath,
		ManifestHash: manifestHash,
		Manifest:     manifest,
	}); err != nil {
		return fmt.Errorf("failed to mark job ready: %w", err)
	}

	if w.config.Metrics != nil {
		w.config.Metrics.IncCompleted(string(job.ExportType))
		w.config.Metrics.ObserveArtifactBytes(float64(len(artifact.Data)))
	}
	w.ledger.BestEffort(ctx, ledger.Entry{
		OrganizationID: job.OrganizationID,
		ActorID:        "export-worker",
		EventName:      "export.completed",
		TargetType:     "export_job",
		TargetID:       job.ID,
		Category:       ledger.CategoryExport,
		Metadata: map[string]string{
			"export_type":   string(job.ExportType),
			"storage_path":  storagePath,
			"manifest_path": manifestPath,
			"manifest_hash": manifestHash,
			"request_id":    job.RequestID,
		},
	})
	w.config.Logger.Info("export job completed",
		"job_id", job.ID,
		"export_type", job.ExportType,
		"storage_path", storagePath,
		"artifact_bytes", len(artifact.Data))
	return nil
}

// bundle turns the rendered files into the primary artifact. Multi-file
// exports are archived deterministically; single-document exports upload the
// document itself. The primary artifact always has a manifest hash entry so
// a downloaded artifact can be verified against it.
func (w *Worker) bundle(job *Job, files []File, manifest *Manifest) (File, error) {
	if len(files) == 1 {
		return files[0], nil
	}
	data, err := BuildArchive(files)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrRender, err)
	}
	archive := File{
		Name:        string(job.ExportType) + ".zip",
		Type:        "archive",
		ContentType: "application/zip",
		Data:        data,
	}
	manifest.Files = append(manifest.Files, ManifestFile{
		Name: archive.Name,
		Type: archive.Type,
		Hash: hashBytes(archive.Data),
	})
	return archive, nil
}

// recordFailure classifies the attempt error, updates the row, and mirrors
// the failure into the ledger.
func (w *Worker) recordFailure(ctx context.Context, job *Job, attemptErr error) {
	failure := w.classifier.Classify(ctx, job, attemptErr)
	state, err := w.store.RecordFailure(ctx, job.ID, failure)
	if err != nil {
		w.config.Logger.Error("failed to record export failure",
			"job_id", job.ID,
			"error", err,
			"attempt_error", attemptErr)
		return
	}

	if w.config.Metrics != nil {
		w.config.Metrics.IncFailed(string(job.ExportType), failure.Code)
		if state == StateQueued {
			w.config.Metrics.IncRetries()
		}
	}
	severity := ledger.SeverityWarning
	if state == StateFailed {
		severity = ledger.SeverityCritical
	}
	w.ledger.BestEffort(ctx, ledger.Entry{
		OrganizationID: job.OrganizationID,
		ActorID:        "export-worker",
		EventName:      "export.failed",
		TargetType:     "export_job",
		TargetID:       job.ID,
		Category:       ledger.CategoryExport,
		Outcome:        ledger.OutcomeFailure,
		Severity:       severity,
		Metadata: map[string]string{
			"export_type":    string(job.ExportType),
			"error_code":     failure.Code,
			"error_id":       failure.ErrorID,
			"failure_reason": failure.Reason,
			"state":          string(state),
			"request_id":     job.RequestID,
		},
	})

	w.config.Logger.Warn("export attempt failed",
		"job_id", job.ID,
		"export_type", job.ExportType,
		"error_code", failure.Code,
		"state", state,
		"error", attemptErr)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
