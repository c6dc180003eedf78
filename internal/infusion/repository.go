package infusion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for infusion persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// The Mark* methods enforce the forward-only status invariant at the
// storage layer: each guards its UPDATE with the set of statuses it may
// move from, so a duplicate terminal message can never overwrite a
// finished record even under concurrent writers.
type Repository interface {
	// GetByID retrieves an infusion by its unique identifier.
	// Returns ErrInfusionNotFound if the infusion does not exist.
	GetByID(ctx context.Context, id string) (*Infusion, error)

	// ListByDevice retrieves all infusions for a pump, newest first.
	ListByDevice(ctx context.Context, deviceID string) ([]Infusion, error)

	// GetActiveByDevice retrieves the non-terminal infusion for a pump.
	// Returns ErrInfusionNotFound if the pump has no active infusion.
	GetActiveByDevice(ctx context.Context, deviceID string) (*Infusion, error)

	// Create inserts a new infusion.
	// Returns ErrInfusionExists if an infusion with the same ID already exists.
	Create(ctx context.Context, inf *Infusion) error

	// MarkRunning moves a created infusion to running.
	// Returns ErrTerminalStatus if the infusion already finished,
	// ErrStatusRegression if it is already running.
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error

	// MarkStopped moves a created or running infusion to stopped.
	// Returns ErrTerminalStatus if the infusion already finished.
	MarkStopped(ctx context.Context, id string, stoppedAt time.Time) error

	// MarkCompleted moves a created or running infusion to completed and
	// records the device-reported summary.
	// Returns ErrTerminalStatus if the infusion already finished.
	MarkCompleted(ctx context.Context, id string, summary map[string]any, completedAt time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const infusionColumns = `id, device_id, patient, patient_skipped,
		flow_rate_ml_min, planned_time_min, planned_volume_ml, bolus,
		status, summary, created_at, updated_at,
		started_at, stopped_at, completed_at`

// GetByID retrieves an infusion by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Infusion, error) {
	query := `SELECT ` + infusionColumns + ` FROM infusions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	inf, err := scanInfusionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInfusionNotFound
		}
		return nil, fmt.Errorf("querying infusion %s: %w", id, err)
	}

	return inf, nil
}

// ListByDevice retrieves all infusions for a pump, newest first.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Infusion, error) {
	query := `SELECT ` + infusionColumns + `
		FROM infusions
		WHERE device_id = ?
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying infusions for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var infusions []Infusion
	for rows.Next() {
		inf, err := scanInfusionRow(rows)
		if err != nil {
			return nil, err
		}
		infusions = append(infusions, *inf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating infusions: %w", err)
	}

	return infusions, nil
}

// GetActiveByDevice retrieves the non-terminal infusion for a pump.
func (r *SQLiteRepository) GetActiveByDevice(ctx context.Context, deviceID string) (*Infusion, error) {
	query := `SELECT ` + infusionColumns + `
		FROM infusions
		WHERE device_id = ? AND status IN ('created', 'running')
		ORDER BY created_at DESC
		LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	inf, err := scanInfusionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInfusionNotFound
		}
		return nil, fmt.Errorf("querying active infusion for %s: %w", deviceID, err)
	}

	return inf, nil
}

// Create inserts a new infusion.
func (r *SQLiteRepository) Create(ctx context.Context, inf *Infusion) error {
	now := time.Now().UTC()
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = now
	}
	inf.UpdatedAt = now

	patientJSON, err := marshalNullable(inf.Patient)
	if err != nil {
		return fmt.Errorf("marshalling patient: %w", err)
	}
	bolusJSON, err := marshalNullable(inf.Parameters.Bolus)
	if err != nil {
		return fmt.Errorf("marshalling bolus: %w", err)
	}

	query := `
		INSERT INTO infusions (
			id, device_id, patient, patient_skipped,
			flow_rate_ml_min, planned_time_min, planned_volume_ml, bolus,
			status, summary, created_at, updated_at,
			started_at, stopped_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		inf.ID,
		inf.DeviceID,
		patientJSON,
		boolToInt(inf.PatientSkipped),
		inf.Parameters.FlowRateMlMin,
		inf.Parameters.PlannedTimeMin,
		inf.Parameters.PlannedVolumeMl,
		bolusJSON,
		string(inf.Status),
		sql.NullString{},
		inf.CreatedAt.Format(time.RFC3339),
		inf.UpdatedAt.Format(time.RFC3339),
		nullableTime(inf.StartedAt),
		nullableTime(inf.StoppedAt),
		nullableTime(inf.CompletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrInfusionExists
		}
		return fmt.Errorf("creating infusion: %w", err)
	}

	return nil
}

// MarkRunning moves a created infusion to running.
func (r *SQLiteRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	now := time.Now().UTC()

	query := `
		UPDATE infusions SET
			status = 'running',
			started_at = ?,
			updated_at = ?
		WHERE id = ? AND status = 'created'
	`

	result, err := r.db.ExecContext(ctx, query,
		startedAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("marking infusion running: %w", err)
	}

	return r.checkGuardedUpdate(ctx, result, id)
}

// MarkStopped moves a created or running infusion to stopped.
func (r *SQLiteRepository) MarkStopped(ctx context.Context, id string, stoppedAt time.Time) error {
	now := time.Now().UTC()

	query := `
		UPDATE infusions SET
			status = 'stopped',
			stopped_at = ?,
			updated_at = ?
		WHERE id = ? AND status IN ('created', 'running')
	`

	result, err := r.db.ExecContext(ctx, query,
		stoppedAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("marking infusion stopped: %w", err)
	}

	return r.checkGuardedUpdate(ctx, result, id)
}

// MarkCompleted moves a created or running infusion to completed.
func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string, summary map[string]any, completedAt time.Time) error {
	now := time.Now().UTC()

	summaryJSON, err := marshalNullable(summary)
	if err != nil {
		return fmt.Errorf("marshalling summary: %w", err)
	}

	query := `
		UPDATE infusions SET
			status = 'completed',
			summary = ?,
			completed_at = ?,
			updated_at = ?
		WHERE id = ? AND status IN ('created', 'running')
	`

	result, err := r.db.ExecContext(ctx, query,
		summaryJSON,
		completedAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("marking infusion completed: %w", err)
	}

	return r.checkGuardedUpdate(ctx, result, id)
}

// checkGuardedUpdate distinguishes why a status-guarded UPDATE matched
// no rows: missing record, already-terminal record, or a same/backward
// move. Callers treat ErrTerminalStatus as the idempotency signal.
func (r *SQLiteRepository) checkGuardedUpdate(ctx context.Context, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStatus, current.Status)
	}
	return fmt.Errorf("%w: currently %s", ErrStatusRegression, current.Status)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfusionRow(scanner rowScanner) (*Infusion, error) { //nolint:gocognit // scans many nullable columns
	var (
		inf            Infusion
		patientJSON    sql.NullString
		patientSkipped int
		bolusJSON      sql.NullString
		status         string
		summaryJSON    sql.NullString
		createdAt      string
		updatedAt      string
		startedAt      sql.NullString
		stoppedAt      sql.NullString
		completedAt    sql.NullString
	)

	err := scanner.Scan(
		&inf.ID,
		&inf.DeviceID,
		&patientJSON,
		&patientSkipped,
		&inf.Parameters.FlowRateMlMin,
		&inf.Parameters.PlannedTimeMin,
		&inf.Parameters.PlannedVolumeMl,
		&bolusJSON,
		&status,
		&summaryJSON,
		&createdAt,
		&updatedAt,
		&startedAt,
		&stoppedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	inf.PatientSkipped = patientSkipped != 0
	inf.Status = Status(status)

	if patientJSON.Valid && patientJSON.String != "" {
		var p Patient
		if err := json.Unmarshal([]byte(patientJSON.String), &p); err != nil {
			return nil, fmt.Errorf("unmarshalling patient: %w", err)
		}
		inf.Patient = &p
	}
	if bolusJSON.Valid && bolusJSON.String != "" {
		var b Bolus
		if err := json.Unmarshal([]byte(bolusJSON.String), &b); err != nil {
			return nil, fmt.Errorf("unmarshalling bolus: %w", err)
		}
		inf.Parameters.Bolus = &b
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		if err := json.Unmarshal([]byte(summaryJSON.String), &inf.Summary); err != nil {
			return nil, fmt.Errorf("unmarshalling summary: %w", err)
		}
	}

	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			inf.StartedAt = &t
		}
	}
	if stoppedAt.Valid {
		if t, err := time.Parse(time.RFC3339, stoppedAt.String); err == nil {
			inf.StoppedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			inf.CompletedAt = &t
		}
	}

	inf.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	inf.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &inf, nil
}

// marshalNullable marshals a value to JSON, or NULL when the value is nil.
func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case *Patient:
		if val == nil {
			return sql.NullString{}, nil
		}
	case *Bolus:
		if val == nil {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if val == nil {
			return sql.NullString{}, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a bool to the 0/1 SQLite convention.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
