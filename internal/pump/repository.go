package pump

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for pump persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a pump by its unique identifier.
	// Returns ErrPumpNotFound if the pump does not exist.
	GetByID(ctx context.Context, id string) (*Pump, error)

	// List retrieves all pumps.
	List(ctx context.Context) ([]Pump, error)

	// ListByStatus retrieves all pumps in a specific operational state.
	ListByStatus(ctx context.Context, status Status) ([]Pump, error)

	// Create inserts a new pump.
	// Returns ErrPumpExists if a pump with the same ID already exists.
	Create(ctx context.Context, p *Pump) error

	// Update modifies an existing pump.
	// Returns ErrPumpNotFound if the pump does not exist.
	Update(ctx context.Context, p *Pump) error

	// Delete removes a pump by ID.
	// Returns ErrPumpNotFound if the pump does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateStatus updates the operational state and active infusion
	// reference in one write. Optimised for lifecycle transitions, which
	// always change both fields together.
	UpdateStatus(ctx context.Context, id string, status Status, activeInfusionID *string) error

	// UpdateLastSeen records the time of the most recent telemetry.
	UpdateLastSeen(ctx context.Context, id string, seen time.Time) error
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

// GetByID retrieves a pump by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Pump, error) {
	query := `
		SELECT id, name, location, status, active_infusion_id, last_seen,
			created_at, updated_at
		FROM pumps
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanPump(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPumpNotFound
		}
		return nil, fmt.Errorf("querying pump %s: %w", id, err)
	}

	return p, nil
}

// List retrieves all pumps ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Pump, error) {
	query := `
		SELECT id, name, location, status, active_infusion_id, last_seen,
			created_at, updated_at
		FROM pumps
		ORDER BY name
	`

	return r.queryPumps(ctx, query)
}

// ListByStatus retrieves all pumps in a specific operational state.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Pump, error) {
	query := `
		SELECT id, name, location, status, active_infusion_id, last_seen,
			created_at, updated_at
		FROM pumps
		WHERE status = ?
		ORDER BY name
	`

	return r.queryPumps(ctx, query, string(status))
}

// Create inserts a new pump.
func (r *SQLiteRepository) Create(ctx context.Context, p *Pump) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO pumps (
			id, name, location, status, active_infusion_id, last_seen,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Location,
		string(p.Status),
		nullableString(p.ActiveInfusionID),
		nullableTime(p.LastSeen),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPumpExists
		}
		return fmt.Errorf("creating pump: %w", err)
	}

	return nil
}

// Update modifies an existing pump.
func (r *SQLiteRepository) Update(ctx context.Context, p *Pump) error {
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE pumps SET
			name = ?,
			location = ?,
			status = ?,
			active_infusion_id = ?,
			last_seen = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		p.Name,
		p.Location,
		string(p.Status),
		nullableString(p.ActiveInfusionID),
		nullableTime(p.LastSeen),
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating pump: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrPumpNotFound
	}

	return nil
}

// Delete removes a pump by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pumps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting pump: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrPumpNotFound
	}

	return nil
}

// UpdateStatus updates the operational state and active infusion reference.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, activeInfusionID *string) error {
	now := time.Now().UTC()

	query := `
		UPDATE pumps SET
			status = ?,
			active_infusion_id = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(status),
		nullableString(activeInfusionID),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating pump status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking status update result: %w", err)
	}
	if rows == 0 {
		return ErrPumpNotFound
	}

	return nil
}

// UpdateLastSeen records the time of the most recent telemetry.
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, id string, seen time.Time) error {
	now := time.Now().UTC()

	query := `
		UPDATE pumps SET
			last_seen = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		seen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating pump last seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking last seen update result: %w", err)
	}
	if rows == 0 {
		return ErrPumpNotFound
	}

	return nil
}

// queryPumps executes a query and scans all resulting rows.
func (r *SQLiteRepository) queryPumps(ctx context.Context, query string, args ...any) ([]Pump, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pumps: %w", err)
	}
	defer rows.Close()

	var pumps []Pump
	for rows.Next() {
		p, err := scanPumpFromRows(rows)
		if err != nil {
			return nil, err
		}
		pumps = append(pumps, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pumps: %w", err)
	}

	return pumps, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPump scans a single row into a Pump.
func scanPump(row *sql.Row) (*Pump, error) {
	return scanPumpRow(row)
}

// scanPumpFromRows scans the current row of a result set into a Pump.
func scanPumpFromRows(rows *sql.Rows) (*Pump, error) {
	return scanPumpRow(rows)
}

func scanPumpRow(scanner rowScanner) (*Pump, error) {
	var (
		p                Pump
		status           string
		activeInfusionID sql.NullString
		lastSeen         sql.NullString
		createdAt        string
		updatedAt        string
	)

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&p.Location,
		&status,
		&activeInfusionID,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = Status(status)

	if activeInfusionID.Valid {
		p.ActiveInfusionID = &activeInfusionID.String
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			p.LastSeen = &t
		}
	}

	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
