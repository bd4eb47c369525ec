package store

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("facemosaic_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	start := JobStart{InputPath: "/videos/in.mp4", Fingerprint: "fp-1", OutputPath: "/videos/out.mp4", Ratio: 0.05, Pitch: 0.85}
	okID, err := s.StartJob(ctx, start)
	if err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}
	if okID <= 0 {
		t.Errorf("Expected positive ID, got %d", okID)
	}

	// Nothing succeeded yet
	prev, err := s.LastSuccess(ctx, "fp-1")
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected no previous success, got job %d", prev.ID)
	}

	err = s.FinishJob(ctx, okID, JobOutcome{Token: "tok-1", Status: StatusSucceeded, Frames: 120, Detections: 37, AudioShifted: true, OutputBytes: 2048})
	if err != nil {
		t.Fatalf("FinishJob failed: %v", err)
	}

	failID, err := s.StartJob(ctx, start)
	if err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}
	err = s.FinishJob(ctx, failID, JobOutcome{Token: "tok-2", Status: StatusFailed, ErrorKind: "stage failure", Error: "mux failed"})
	if err != nil {
		t.Fatalf("FinishJob failed: %v", err)
	}

	if err := s.FinishJob(ctx, 999999, JobOutcome{Status: StatusFailed}); err == nil {
		t.Error("Expected error finishing an unknown job")
	}

	jobs, err := s.ListJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != failID {
		t.Errorf("Expected newest job first, got %d", jobs[0].ID)
	}
	if jobs[0].Status != StatusFailed || jobs[0].Error != "mux failed" || jobs[0].FinishedAt == nil {
		t.Errorf("Unexpected failed job row %+v", jobs[0])
	}

	limited, err := s.ListJobs(ctx, 1)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d rows", len(limited))
	}

	prev, err = s.LastSuccess(ctx, "fp-1")
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if prev == nil || prev.ID != okID || prev.Token != "tok-1" || prev.Detections != 37 || !prev.AudioShifted {
		t.Errorf("Unexpected last success %+v", prev)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListJobs(ctx, 0); err == nil {
		t.Error("Expected ListJobs to fail after the table was dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
