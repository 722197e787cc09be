package retention

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sitewardhq/siteward/internal/blob"
	"github.com/sitewardhq/siteward/internal/export"
	"github.com/sitewardhq/siteward/internal/ledger"
)

const testBucket = "exports"

type retentionEnv struct {
	jobs   *export.InMemoryJobStore
	blobs  *blob.MemoryStore
	plans  *InMemoryPlanSource
	events *ledger.InMemoryRepository
	worker *Worker
}

func newRetentionEnv(t *testing.T) *retentionEnv {
	t.Helper()
	jobs := export.NewInMemoryJobStore()
	blobs := blob.NewMemoryStore()
	plans := NewInMemoryPlanSource()
	events := ledger.NewInMemoryRepository()

	worker := NewWorker(
		WorkerConfig{Bucket: testBucket, Logger: slog.Default()},
		jobs, blobs, plans, ledger.NewWriter(events, nil),
	)
	return &retentionEnv{jobs: jobs, blobs: blobs, plans: plans, events: events, worker: worker}
}

// insertReadyJob stores a ready export completed at the given time, with its
// artifact and manifest present in the blob store.
func (env *retentionEnv) insertReadyJob(t *testing.T, id, orgID string, completedAt time.Time) *export.Job {
	t.Helper()
	ctx := context.Background()

	storagePath := "exports/" + orgID + "/" + id + "/audit_ledger.csv"
	manifestPath := "exports/" + orgID + "/" + id + "/manifest.json"
	job := &export.Job{
		ID:             id,
		OrganizationID: orgID,
		ExportType:     export.TypeLedger,
		State:          export.StateReady,
		StoragePath:    storagePath,
		ManifestPath:   manifestPath,
		CompletedAt:    &completedAt,
	}
	if err := env.jobs.Insert(ctx, job); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := env.blobs.Put(ctx, testBucket, storagePath, []byte("csv"), "text/csv"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := env.blobs.Put(ctx, testBucket, manifestPath, []byte("{}"), "application/json"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return job
}

func TestSweepExpiredInclusiveBoundary(t *testing.T) {
	env := newRetentionEnv(t)
	env.plans.SetPlanTier("org-1", "starter")
	now := time.Now().UTC()

	atBoundary := env.insertReadyJob(t, "job-boundary", "org-1", now.AddDate(0, 0, -StarterDays))
	inside := env.insertReadyJob(t, "job-inside", "org-1", now.AddDate(0, 0, -StarterDays+1))

	env.worker.RunOnce(context.Background(), now)

	expired, err := env.jobs.Get(context.Background(), atBoundary.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if expired.State != export.StateExpired {
		t.Errorf("export completed exactly %d days ago must expire, got %s", StarterDays, expired.State)
	}
	if env.blobs.Exists(testBucket, atBoundary.StoragePath) || env.blobs.Exists(testBucket, atBoundary.ManifestPath) {
		t.Error("expired export blobs were not removed")
	}

	kept, err := env.jobs.Get(context.Background(), inside.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if kept.State != export.StateReady {
		t.Errorf("export inside the retention window must stay ready, got %s", kept.State)
	}
	if !env.blobs.Exists(testBucket, inside.StoragePath) {
		t.Error("blobs of a retained export were removed")
	}
}

func TestSweepExpiredRespectsPlanTier(t *testing.T) {
	env := newRetentionEnv(t)
	env.plans.SetPlanTier("org-pro", "pro")
	now := time.Now().UTC()

	// 30 days would already be past the starter window, but pro keeps 90.
	job := env.insertReadyJob(t, "job-1", "org-pro", now.AddDate(0, 0, -StarterDays))

	env.worker.RunOnce(context.Background(), now)

	got, err := env.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != export.StateReady {
		t.Errorf("pro-tier export must survive past the starter window, got %s", got.State)
	}
}

func TestSweepExpiredUnknownTierFallsBackToStarter(t *testing.T) {
	env := newRetentionEnv(t)
	env.plans.SetPlanTier("org-1", "platinum")
	now := time.Now().UTC()

	job := env.insertReadyJob(t, "job-1", "org-1", now.AddDate(0, 0, -StarterDays-1))

	env.worker.RunOnce(context.Background(), now)

	got, err := env.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != export.StateExpired {
		t.Errorf("unknown tier must use the starter window, got %s", got.State)
	}
}

func TestSweepStalePurgesAfterGrace(t *testing.T) {
	env := newRetentionEnv(t)
	env.plans.SetPlanTier("org-1", "starter")
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &export.Job{
		ID:             "job-stale",
		OrganizationID: "org-1",
		ExportType:     export.TypeLedger,
		State:          export.StateFailed,
		CreatedAt:      now.AddDate(0, 0, -GraceDays-1),
	}
	if err := env.jobs.Insert(ctx, stale); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	fresh := &export.Job{
		ID:             "job-fresh",
		OrganizationID: "org-1",
		ExportType:     export.TypeLedger,
		State:          export.StateCanceled,
		CreatedAt:      now.AddDate(0, 0, -GraceDays+1),
	}
	if err := env.jobs.Insert(ctx, fresh); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	env.worker.RunOnce(ctx, now)

	if _, err := env.jobs.Get(ctx, "job-stale"); !errors.Is(err, export.ErrJobNotFound) {
		t.Errorf("expected stale terminal job hard-deleted, got %v", err)
	}
	if _, err := env.jobs.Get(ctx, "job-fresh"); err != nil {
		t.Errorf("terminal job inside the grace period must be retained, got %v", err)
	}
}

func TestSweepEmitsLedgerEvents(t *testing.T) {
	env := newRetentionEnv(t)
	env.plans.SetPlanTier("org-1", "starter")
	ctx := context.Background()
	now := time.Now().UTC()

	expired := env.insertReadyJob(t, "job-expired", "org-1", now.AddDate(0, 0, -StarterDays-5))
	stale := &export.Job{
		ID:             "job-stale",
		OrganizationID: "org-1",
		ExportType:     export.TypeLedger,
		State:          export.StateFailed,
		CreatedAt:      now.AddDate(0, 0, -GraceDays-1),
	}
	if err := env.jobs.Insert(ctx, stale); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	env.worker.RunOnce(ctx, now)

	expiredTrail, err := env.events.QueryByTarget(ctx, "org-1", "export_job", expired.ID, 10)
	if err != nil {
		t.Fatalf("QueryByTarget failed: %v", err)
	}
	if len(expiredTrail) != 1 || expiredTrail[0].EventName != "export.expired" {
		t.Errorf("expected one export.expired event, got %d events", len(expiredTrail))
	}

	staleTrail, err := env.events.QueryByTarget(ctx, "org-1", "export_job", stale.ID, 10)
	if err != nil {
		t.Fatalf("QueryByTarget failed: %v", err)
	}
	if len(staleTrail) != 1 || staleTrail[0].EventName != "export.purged" {
		t.Errorf("expected one export.purged event, got %d events", len(staleTrail))
	}
}

func TestRunOnceSafeToRerun(t *testing.T) {
	env := newRetentionEnv(t)
	env.plans.SetPlanTier("org-1", "starter")
	ctx := context.Background()
	now := time.Now().UTC()

	job := env.insertReadyJob(t, "job-1", "org-1", now.AddDate(0, 0, -StarterDays-1))

	env.worker.RunOnce(ctx, now)
	env.worker.RunOnce(ctx, now)

	got, err := env.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != export.StateExpired {
		t.Errorf("expected expired after re-run, got %s", got.State)
	}

	trail, err := env.events.QueryByTarget(ctx, "org-1", "export_job", job.ID, 10)
	if err != nil {
		t.Fatalf("QueryByTarget failed: %v", err)
	}
	if len(trail) != 1 {
		t.Errorf("re-running the sweep must not duplicate expiry events, got %d", len(trail))
	}
}
