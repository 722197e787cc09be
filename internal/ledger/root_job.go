package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

const rootJobType = "ledger_root"

// DefaultRootHour is the default UTC hour at which roots are computed.
const DefaultRootHour = 2

// RootJobConfig configures the daily ledger root job.
type RootJobConfig struct {
	// Hour is the UTC hour of day at which the job runs.
	Hour int
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
}

// RootJob computes the previous day's ledger root per organization, once
// daily at a fixed hour and once at process startup to cover missed runs.
type RootJob struct {
	config RootJobConfig
	repo   Repository
	store  RootStore

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRootJob creates a new ledger root job.
func NewRootJob(config RootJobConfig, repo Repository, store RootStore) *RootJob {
	if config.Hour < 0 || config.Hour > 23 {
		config.Hour = DefaultRootHour
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &RootJob{config: config, repo: repo, store: store}
}

// Start begins the daily root job, running one catch-up pass immediately.
// Returns immediately; the job runs in a background goroutine.
func (j *RootJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the root job to stop and waits for it to finish.
func (j *RootJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// run is the main loop for the root job.
func (j *RootJob) run(ctx context.Context) {
	defer close(j.doneCh)

	// Startup pass covers runs missed while the process was down.
	j.RunOnce(ctx, time.Now())

	for {
		wait := time.Until(j.nextRun(time.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			j.config.Logger.Info("ledger root job stopping due to context cancellation")
			return
		case <-j.stopCh:
			timer.Stop()
			j.config.Logger.Info("ledger root job stopping due to stop signal")
			return
		case <-timer.C:
			j.RunOnce(ctx, time.Now())
		}
	}
}

// nextRun returns the next occurrence of the configured UTC hour after now.
func (j *RootJob) nextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), j.config.Hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// RunOnce computes roots for the previous full UTC day relative to asOf, for
// every organization that recorded events that day. Never computes a root for
// the current day. Safe to re-run: upserts are idempotent by (org, date).
func (j *RootJob) RunOnce(ctx context.Context, asOf time.Time) {
	day := asOf.UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	start := time.Now()

	orgs, err := j.repo.OrganizationsWithEvents(ctx, day)
	if err != nil {
		j.config.Logger.Error("failed to list organizations for root computation",
			"day", day.Format("2006-01-02"),
			"error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(rootJobType, "query_error")
			j.config.JobMetrics.IncJobsTotal(rootJobType, "failure")
		}
		return
	}

	var computed, failed int
	for _, org := range orgs {
		root, err := ComputeRoot(ctx, j.repo, org, day)
		if err != nil {
			j.config.Logger.Error("failed to compute ledger root",
				"organization_id", org,
				"day", day.Format("2006-01-02"),
				"error", err)
			if j.config.JobMetrics != nil {
				j.config.JobMetrics.IncJobErrors(rootJobType, "compute_error")
			}
			failed++
			continue
		}
		if root == nil {
			// Empty day for this organization; no root recorded.
			continue
		}
		if err := j.store.Upsert(ctx, root); err != nil {
			j.config.Logger.Error("failed to upsert ledger root",
				"organization_id", org,
				"day", day.Format("2006-01-02"),
				"error", err)
			if j.config.JobMetrics != nil {
				j.config.JobMetrics.IncJobErrors(rootJobType, "upsert_error")
			}
			failed++
			continue
		}
		computed++
		j.config.Logger.Debug("ledger root computed",
			"organization_id", org,
			"day", day.Format("2006-01-02"),
			"root_hash", root.RootHash,
			"event_count", root.EventCount)
	}

	duration := time.Since(start).Seconds()
	status := "success"
	if failed > 0 {
		status = "failure"
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(rootJobType, status)
		j.config.JobMetrics.ObserveJobDuration(rootJobType, duration)
	}

	j.config.Logger.Info("ledger root computation completed",
		"day", day.Format("2006-01-02"),
		"organizations", len(orgs),
		"roots_computed", computed,
		"roots_failed", failed,
		"duration_seconds", duration)
}
