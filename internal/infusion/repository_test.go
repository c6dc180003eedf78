package infusion

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the infusions table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Create infusions table matching the schema. The pumps foreign key
	// is omitted so these tests exercise infusions in isolation.
	schema := `
		CREATE TABLE infusions (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			patient TEXT,
			patient_skipped INTEGER NOT NULL DEFAULT 0,
			flow_rate_ml_min REAL NOT NULL,
			planned_time_min INTEGER NOT NULL,
			planned_volume_ml REAL NOT NULL,
			bolus TEXT,
			status TEXT NOT NULL DEFAULT 'created',
			summary TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			started_at TEXT,
			stopped_at TEXT,
			completed_at TEXT
		) STRICT;
		CREATE INDEX idx_infusions_device ON infusions(device_id);
		CREATE INDEX idx_infusions_status ON infusions(status);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func mustCreate(t *testing.T, repo *SQLiteRepository, inf *Infusion) {
	t.Helper()
	if err := repo.Create(context.Background(), inf); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func skippedInfusion(t *testing.T, deviceID string) *Infusion {
	t.Helper()
	inf, err := SkipPatient(deviceID, Parameters{
		FlowRateMlMin:   10,
		PlannedTimeMin:  60,
		PlannedVolumeMl: 600,
	})
	if err != nil {
		t.Fatalf("SkipPatient() error = %v", err)
	}
	return inf
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("round-trips patient and bolus", func(t *testing.T) {
		inf, err := WithPatient("PUMP_0001", Parameters{
			FlowRateMlMin: 12.5, PlannedTimeMin: 90, PlannedVolumeMl: 1125,
			Bolus: &Bolus{Enabled: true, VolumeMl: 5},
		}, Patient{ID: "pat-42", Name: "Grace"})
		if err != nil {
			t.Fatalf("WithPatient() error = %v", err)
		}
		mustCreate(t, repo, inf)

		got, err := repo.GetByID(ctx, inf.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Patient == nil || got.Patient.ID != "pat-42" || got.Patient.Name != "Grace" {
			t.Errorf("Patient = %+v, want pat-42/Grace", got.Patient)
		}
		if got.Parameters.Bolus == nil || got.Parameters.Bolus.VolumeMl != 5 {
			t.Errorf("Bolus = %+v, want volume 5", got.Parameters.Bolus)
		}
		if got.Parameters.FlowRateMlMin != 12.5 {
			t.Errorf("FlowRateMlMin = %v, want 12.5", got.Parameters.FlowRateMlMin)
		}
		if got.Status != StatusCreated {
			t.Errorf("Status = %q, want %q", got.Status, StatusCreated)
		}
	})

	t.Run("round-trips skipped patient", func(t *testing.T) {
		inf := skippedInfusion(t, "PUMP_0002")
		mustCreate(t, repo, inf)

		got, err := repo.GetByID(ctx, inf.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if !got.PatientSkipped {
			t.Error("PatientSkipped should round-trip as true")
		}
		if got.Patient != nil {
			t.Errorf("Patient = %v, want nil", got.Patient)
		}
	})

	t.Run("returns ErrInfusionExists for duplicate ID", func(t *testing.T) {
		inf := skippedInfusion(t, "PUMP_0003")
		mustCreate(t, repo, inf)

		dup := skippedInfusion(t, "PUMP_0003")
		dup.ID = inf.ID
		err := repo.Create(ctx, dup)
		if !errors.Is(err, ErrInfusionExists) {
			t.Errorf("Create() error = %v, want ErrInfusionExists", err)
		}
	})

	t.Run("returns ErrInfusionNotFound for missing ID", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "missing")
		if !errors.Is(err, ErrInfusionNotFound) {
			t.Errorf("GetByID() error = %v, want ErrInfusionNotFound", err)
		}
	})
}

func TestSQLiteRepository_MarkRunning(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("moves created to running", func(t *testing.T) {
		inf := skippedInfusion(t, "PUMP_0001")
		mustCreate(t, repo, inf)

		started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		if err := repo.MarkRunning(ctx, inf.ID, started); err != nil {
			t.Fatalf("MarkRunning() error = %v", err)
		}

		got, _ := repo.GetByID(ctx, inf.ID)
		if got.Status != StatusRunning {
			t.Errorf("Status = %q, want %q", got.Status, StatusRunning)
		}
		if got.StartedAt == nil || !got.StartedAt.Equal(started) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
		}
	})

	t.Run("second confirmation is a regression", func(t *testing.T) {
		inf := skippedInfusion(t, "PUMP_0001")
		mustCreate(t, repo, inf)

		if err := repo.MarkRunning(ctx, inf.ID, time.Now()); err != nil {
			t.Fatalf("MarkRunning() error = %v", err)
		}
		err := repo.MarkRunning(ctx, inf.ID, time.Now())
		if !errors.Is(err, ErrStatusRegression) {
			t.Errorf("second MarkRunning() error = %v, want ErrStatusRegression", err)
		}
	})

	t.Run("stopped infusion cannot restart", func(t *testing.T) {
		inf := skippedInfusion(t, "PUMP_0001")
		mustCreate(t, repo, inf)

		if err := repo.MarkStopped(ctx, inf.ID, time.Now()); err != nil {
			t.Fatalf("MarkStopped() error = %v", err)
		}
		err := repo.MarkRunning(ctx, inf.ID, time.Now())
		if !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("MarkRunning() after stop error = %v, want ErrTerminalStatus", err)
		}
	})

	t.Run("returns ErrInfusionNotFound for missing ID", func(t *testing.T) {
		err := repo.MarkRunning(ctx, "missing", time.Now())
		if !errors.Is(err, ErrInfusionNotFound) {
			t.Errorf("MarkRunning() error = %v, want ErrInfusionNotFound", err)
		}
	})
}

func TestSQLiteRepository_MarkCompleted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("records summary and timestamp", func(t *testing.T) {
		inf := skippedInfusion(t, "PUMP_0001")
		mustCreate(t, repo, inf)
		if err := repo.MarkRunning(ctx, inf.ID, time.Now()); err != nil {
			t.Fatalf("MarkRunning() error = %v", err)
		}

		summary := map[string]any{"volume_infused_ml": 600.0, "duration_min": 61.0}
		completed := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
		if err := repo.MarkCompleted(ctx, inf.ID, summary, completed); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}

		got, _ := repo.GetByID(ctx, inf.ID)
		if got.Status != StatusCompleted {
			t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
		}
		if got.Summary["volume_infused_ml"] != 600.0 {
			t.Errorf("Summary = %v, want volume_infused_ml 600", got.Summary)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
		}
	})

	t.Run("duplicate completion is terminal", func(t *testing.T) {
		inf := skippedInfusion(t, "PUMP_0001")
		mustCreate(t, repo, inf)
		if err := repo.MarkCompleted(ctx, inf.ID, nil, time.Now()); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}

		err := repo.MarkCompleted(ctx, inf.ID, map[string]any{"again": true}, time.Now())
		if !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("second MarkCompleted() error = %v, want ErrTerminalStatus", err)
		}

		// First summary must survive the duplicate
		got, _ := repo.GetByID(ctx, inf.ID)
		if _, exists := got.Summary["again"]; exists {
			t.Error("duplicate completion overwrote the original summary")
		}
	})
}

func TestSQLiteRepository_GetActiveByDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("returns newest non-terminal infusion", func(t *testing.T) {
		old := skippedInfusion(t, "PUMP_0001")
		old.CreatedAt = time.Now().UTC().Add(-time.Hour)
		mustCreate(t, repo, old)
		if err := repo.MarkStopped(ctx, old.ID, time.Now()); err != nil {
			t.Fatalf("MarkStopped() error = %v", err)
		}

		current := skippedInfusion(t, "PUMP_0001")
		mustCreate(t, repo, current)

		got, err := repo.GetActiveByDevice(ctx, "PUMP_0001")
		if err != nil {
			t.Fatalf("GetActiveByDevice() error = %v", err)
		}
		if got.ID != current.ID {
			t.Errorf("GetActiveByDevice() ID = %q, want %q", got.ID, current.ID)
		}
	})

	t.Run("returns ErrInfusionNotFound when none active", func(t *testing.T) {
		_, err := repo.GetActiveByDevice(ctx, "PUMP_IDLE")
		if !errors.Is(err, ErrInfusionNotFound) {
			t.Errorf("GetActiveByDevice() error = %v, want ErrInfusionNotFound", err)
		}
	})
}

func TestSQLiteRepository_ListByDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		inf := skippedInfusion(t, "PUMP_0001")
		inf.CreatedAt = time.Now().UTC().Add(time.Duration(-i) * time.Hour)
		mustCreate(t, repo, inf)
	}
	mustCreate(t, repo, skippedInfusion(t, "PUMP_0002"))

	got, err := repo.ListByDevice(ctx, "PUMP_0001")
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d infusions, want 3", len(got))
	}
	// Newest first
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("infusions not ordered newest first at index %d", i)
		}
	}
}
