package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/rendersup/internal/history"
	"github.com/loykin/rendersup/internal/report"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	prev := "https://x/a"
	reports := []report.CrashReport{
		{IncidentID: "inc-1", SurfaceID: "main", Timestamp: time.Now().UTC(), Reason: report.ReasonOutOfMemory,
			RecoveryAttempted: true, RecoverySucceeded: true, PreviousURL: &prev},
		{IncidentID: "inc-2", SurfaceID: "main", Timestamp: time.Now().UTC(), Reason: report.ReasonUnknown},
	}
	for _, r := range reports {
		if err := sink.Send(ctx, history.NewCrashEvent(r)); err != nil {
			t.Fatalf("Failed to send event: %v", err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM crash_history WHERE surface_id = $1", "main").Scan(&count); err != nil {
		t.Fatalf("Failed to count crash_history: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}

	var nulls int
	if err := sink.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM crash_history WHERE previous_url IS NULL").Scan(&nulls); err != nil {
		t.Fatalf("Failed to count null urls: %v", err)
	}
	if nulls != 1 {
		t.Errorf("Expected 1 row without previous_url, got %d", nulls)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
