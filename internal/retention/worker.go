package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sitewardhq/siteward/internal/blob"
	"github.com/sitewardhq/siteward/internal/export"
	"github.com/sitewardhq/siteward/internal/ledger"
)

const sweepJobType = "retention_sweep"

// DefaultInterval is how often the retention worker runs.
const DefaultInterval = time.Hour

// WorkerConfig configures the retention worker.
type WorkerConfig struct {
	// Interval between sweeps. Defaults to DefaultInterval.
	Interval time.Duration
	// Bucket holding export artifacts.
	Bucket string
	// Logger for worker activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics ledger.JobMetrics
}

// Worker runs two independent hourly sweeps: expiring ready exports past
// their plan-tier retention window, and hard-deleting failed or canceled
// jobs past the grace period. Blob removals are idempotent, so a sweep
// interrupted mid-flight is safe to re-run.
type Worker struct {
	config WorkerConfig
	jobs   export.JobStore
	blobs  blob.Store
	plans  PlanSource
	ledger *ledger.Writer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker creates a new retention worker.
func NewWorker(config WorkerConfig, jobs export.JobStore, blobs blob.Store,
	plans PlanSource, writer *ledger.Writer) *Worker {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Worker{
		config: config,
		jobs:   jobs,
		blobs:  blobs,
		plans:  plans,
		ledger: writer,
	}
}

// Start begins the retention loop. Returns immediately; the loop runs in a
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

// Stop signals the worker to stop and waits for it to finish.
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

// run is the main loop for the retention worker.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.config.Logger.Info("retention worker stopping due to context cancellation")
			return
		case <-w.stopCh:
			w.config.Logger.Info("retention worker stopping due to stop signal")
			return
		case <-ticker.C:
			w.RunOnce(ctx, time.Now())
		}
	}
}

// RunOnce performs one full retention pass as of the given time.
func (w *Worker) RunOnce(ctx context.Context, asOf time.Time) {
	start := time.Now()

	expired, expireErrs := w.sweepExpired(ctx, asOf)
	purged, purgeErrs := w.sweepStale(ctx, asOf)
	w.sweepOrphans(ctx)

	duration := time.Since(start).Seconds()
	status := "success"
	if expireErrs+purgeErrs > 0 {
		status = "failure"
	}
	if w.config.JobMetrics != nil {
		w.config.JobMetrics.IncJobsTotal(sweepJobType, status)
		w.config.JobMetrics.ObserveJobDuration(sweepJobType, duration)
	}
	w.config.Logger.Info("retention sweep completed",
		"expired", expired,
		"purged", purged,
		"errors", expireErrs+purgeErrs,
		"duration_seconds", duration)
}

// sweepExpired expires ready exports whose completion is at or past the
// organization's retention window. The boundary is inclusive: an export
// completed exactly retentionDays ago is expired.
func (w *Worker) sweepExpired(ctx context.Context, asOf time.Time) (expired, errs int) {
	orgs, err := w.plans.ListOrganizations(ctx)
	if err != nil {
		w.config.Logger.Error("failed to list organizations for retention", "error", err)
		if w.config.JobMetrics != nil {
			w.config.JobMetrics.IncJobErrors(sweepJobType, "query_error")
		}
		return 0, 1
	}

	for _, org := range orgs {
		tier, err := w.plans.GetPlanTier(ctx, org)
		if err != nil {
			w.config.Logger.Error("failed to resolve plan tier",
				"organization_id", org, "error", err)
			errs++
			continue
		}
		days := RetentionDays(tier)
		cutoff := asOf.UTC().AddDate(0, 0, -days)

		jobs, err := w.jobs.ReadyCompletedBefore(ctx, org, cutoff)
		if err != nil {
			w.config.Logger.Error("failed to query expired exports",
				"organization_id", org, "error", err)
			errs++
			continue
		}
		for _, job := range jobs {
			if err := w.expire(ctx, job); err != nil {
				errs++
				continue
			}
			expired++
		}
	}
	return expired, errs
}

// expire removes a ready export's blobs and marks the row expired. The row
// is retained for compliance; only the payload is reclaimed.
func (w *Worker) expire(ctx context.Context, job *export.Job) error {
	paths := blobPaths(job)
	if err := w.blobs.Remove(ctx, w.config.Bucket, paths); err != nil {
		w.config.Logger.Error("failed to remove expired export blobs",
			"job_id", job.ID, "error", err)
		if w.config.JobMetrics != nil {
			w.config.JobMetrics.IncJobErrors(sweepJobType, "storage_error")
		}
		return err
	}
	if err := w.jobs.MarkExpired(ctx, job.ID); err != nil {
		w.config.Logger.Error("failed to mark export expired",
			"job_id", job.ID, "error", err)
		return err
	}
	w.ledger.BestEffort(ctx, ledger.Entry{
		OrganizationID: job.OrganizationID,
		ActorID:        "retention-worker",
		EventName:      "export.expired",
		TargetType:     "export_job",
		TargetID:       job.ID,
		Category:       ledger.CategoryRetention,
		Metadata: map[string]string{
			"export_type":  string(job.ExportType),
			"storage_path": job.StoragePath,
		},
	})
	w.config.Logger.Info("export expired",
		"job_id", job.ID,
		"organization_id", job.OrganizationID)
	return nil
}

// sweepStale hard-deletes failed and canceled jobs older than the grace
// period. These rows have no compliance value.
func (w *Worker) sweepStale(ctx context.Context, asOf time.Time) (purged, errs int) {
	cutoff := asOf.UTC().AddDate(0, 0, -GraceDays)
	jobs, err := w.jobs.TerminalBefore(ctx, cutoff)
	if err != nil {
		w.config.Logger.Error("failed to query stale exports", "error", err)
		if w.config.JobMetrics != nil {
			w.config.JobMetrics.IncJobErrors(sweepJobType, "query_error")
		}
		return 0, 1
	}

	for _, job := range jobs {
		if paths := blobPaths(job); len(paths) > 0 {
			if err := w.blobs.Remove(ctx, w.config.Bucket, paths); err != nil {
				w.config.Logger.Error("failed to remove stale export blobs",
					"job_id", job.ID, "error", err)
				errs++
				continue
			}
		}
		if err := w.jobs.Delete(ctx, job.ID); err != nil {
			w.config.Logger.Error("failed to delete stale export",
				"job_id", job.ID, "error", err)
			errs++
			continue
		}
		w.ledger.BestEffort(ctx, ledger.Entry{
			OrganizationID: job.OrganizationID,
			ActorID:        "retention-worker",
			EventName:      "export.purged",
			TargetType:     "export_job",
			TargetID:       job.ID,
			Category:       ledger.CategoryRetention,
			Metadata: map[string]string{
				"export_type": string(job.ExportType),
				"state":       string(job.State),
			},
		})
		purged++
	}
	return purged, errs
}

// sweepOrphans would reclaim blobs with no matching job row. Deliberately
// not implemented: it requires a bucket-wide listing pass that needs its own
// rate limiting, and nothing creates orphans in normal operation because
// rows are written before blobs and deleted after them.
func (w *Worker) sweepOrphans(ctx context.Context) {}

func blobPaths(job *export.Job) []string {
	var paths []string
	if job.StoragePath != "" {
		paths = append(paths, job.StoragePath)
	}
	if job.ManifestPath != "" {
		paths = append(paths, job.ManifestPath)
	}
	return paths
}
