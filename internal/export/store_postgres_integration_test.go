//go:build integration

package export

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresJobStoreSuite runs the claim-protocol tests against a real
// PostgreSQL instance, since the atomic claim depends on FOR UPDATE SKIP
// LOCKED semantics the in-memory store cannot exercise.
type PostgresJobStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	store     *PostgresJobStore
}

func TestPostgresJobStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed tests in short mode")
	}
	suite.Run(t, new(PostgresJobStoreSuite))
}

func (s *PostgresJobStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("siteward_test"),
		tcpostgres.WithUsername("siteward"),
		tcpostgres.WithPassword("siteward"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T(), err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.db, err = sql.Open("postgres", dsn)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.db.PingContext(ctx))

	s.applyMigrations(ctx)
	s.store = NewPostgresJobStore(s.db, nil)
}

func (s *PostgresJobStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresJobStoreSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE export_jobs`)
	require.NoError(s.T(), err)
}

func (s *PostgresJobStoreSuite) applyMigrations(ctx context.Context) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), paths, "no migrations found")
	sort.Strings(paths)

	for _, path := range paths {
		ddl, err := os.ReadFile(path)
		require.NoError(s.T(), err, path)
		_, err = s.db.ExecContext(ctx, string(ddl))
		require.NoError(s.T(), err, path)
	}
}

func (s *PostgresJobStoreSuite) insertQueued(id string) {
	job := &Job{ID: id, OrganizationID: "org-1", ExportType: TypeLedger, State: StateQueued}
	require.NoError(s.T(), s.store.Insert(context.Background(), job))
}

func (s *PostgresJobStoreSuite) TestClaimRaceExactlyOneWinner() {
	ctx := context.Background()
	s.insertQueued("job-1")

	const claimers = 50
	var wg sync.WaitGroup
	wins := make(chan string, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.store.ClaimOldestQueued(ctx, 10)
			if err != nil {
				s.T().Errorf("ClaimOldestQueued failed: %v", err)
				return
			}
			if job != nil {
				wins <- job.ID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	s.Require().Len(winners, 1, "exactly one claimer must win")

	job, err := s.store.Get(ctx, winners[0])
	s.Require().NoError(err)
	s.Equal(StatePreparing, job.State)
	s.NotNil(job.StartedAt)
}

func (s *PostgresJobStoreSuite) TestClaimRespectsActiveCap() {
	ctx := context.Background()
	s.insertQueued("job-1")
	s.insertQueued("job-2")

	first, err := s.store.ClaimOldestQueued(ctx, 1)
	s.Require().NoError(err)
	s.Require().NotNil(first)

	second, err := s.store.ClaimOldestQueued(ctx, 1)
	s.Require().NoError(err)
	s.Nil(second, "claim at the active cap must return nothing")
}

func (s *PostgresJobStoreSuite) TestClaimOrdersByCreatedAtThenID() {
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Hour)
	for _, id := range []string{"job-b", "job-a"} {
		job := &Job{ID: id, OrganizationID: "org-1", ExportType: TypeLedger, State: StateQueued, CreatedAt: created}
		s.Require().NoError(s.store.Insert(ctx, job))
	}

	claimed, err := s.store.ClaimOldestQueued(ctx, 10)
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Equal("job-a", claimed.ID)
}

func (s *PostgresJobStoreSuite) TestRecordFailurePoisonPill() {
	ctx := context.Background()
	s.insertQueued("job-1")
	failure := Failure{Code: CodeRender, Reason: "Generating the export document failed. It will be retried automatically."}

	for attempt := 1; attempt < MaxFailureCount; attempt++ {
		state, err := s.store.RecordFailure(ctx, "job-1", failure)
		s.Require().NoError(err)
		s.Equal(StateQueued, state, "attempt %d must requeue", attempt)
	}

	state, err := s.store.RecordFailure(ctx, "job-1", failure)
	s.Require().NoError(err)
	s.Equal(StateFailed, state)

	job, err := s.store.Get(ctx, "job-1")
	s.Require().NoError(err)
	s.Equal(MaxFailureCount, job.FailureCount)
	s.NotNil(job.CompletedAt)
}

func (s *PostgresJobStoreSuite) TestCancelOnlyEarlyStates() {
	ctx := context.Background()
	s.insertQueued("job-1")
	s.Require().NoError(s.store.Cancel(ctx, "job-1"))

	s.insertQueued("job-2")
	s.Require().NoError(s.store.SetState(ctx, "job-2", StateGenerating, 10))
	err := s.store.Cancel(ctx, "job-2")
	s.Require().ErrorIs(err, ErrNotCancelable)

	err = s.store.Cancel(ctx, "missing")
	s.Require().ErrorIs(err, ErrJobNotFound)
}

func (s *PostgresJobStoreSuite) TestMarkReadyRoundTripsManifest() {
	ctx := context.Background()
	s.insertQueued("job-1")

	manifest := &Manifest{
		Version:        ManifestVersion,
		GeneratedAt:    time.Now().UTC(),
		OrganizationID: "org-1",
		Files: []ManifestFile{
			{Name: "audit_ledger.csv", Type: "csv", Hash: "abc"},
		},
	}
	err := s.store.MarkReady(ctx, "job-1", ReadyArtifact{
		StoragePath:  "exports/org-1/job-1/audit_ledger.csv",
		ManifestPath: "exports/org-1/job-1/manifest.json",
		ManifestHash: "def",
		Manifest:     manifest,
	})
	s.Require().NoError(err)

	job, err := s.store.Get(ctx, "job-1")
	s.Require().NoError(err)
	s.Equal(StateReady, job.State)
	s.Require().NotNil(job.Manifest)
	s.Equal(manifest.Files, job.Manifest.Files)
	s.Equal("def", job.ManifestHash)
}

func (s *PostgresJobStoreSuite) TestReadyCompletedBeforeInclusive() {
	ctx := context.Background()
	s.insertQueued("job-1")
	s.Require().NoError(s.store.MarkReady(ctx, "job-1", ReadyArtifact{}))

	var completedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT completed_at FROM export_jobs WHERE id = 'job-1'`).Scan(&completedAt)
	s.Require().NoError(err)

	jobs, err := s.store.ReadyCompletedBefore(ctx, "org-1", completedAt)
	s.Require().NoError(err)
	s.Len(jobs, 1, "boundary must be inclusive")

	jobs, err = s.store.ReadyCompletedBefore(ctx, "org-1", completedAt.Add(-time.Second))
	s.Require().NoError(err)
	s.Empty(jobs)
}
