package rack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for rack persistence operations.
type Repository interface {
	Create(ctx context.Context, r *Rack) error
	Get(ctx context.Context, id string) (*Rack, error)
	List(ctx context.Context) ([]Rack, error)
	Update(ctx context.Context, r *Rack) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed rack repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `SELECT id, name, location, is_active, created_at, updated_at FROM racks`

// Create inserts a new rack. CreatedAt and UpdatedAt are set to now.
func (r *SQLiteRepository) Create(ctx context.Context, rk *Rack) error {
	now := time.Now().UTC()
	rk.CreatedAt = now
	rk.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO racks (id, name, location, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rk.ID, rk.Name, nullStr(rk.Location), boolToInt(rk.IsActive),
		formatTime(rk.CreatedAt), formatTime(rk.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrRackExists, rk.ID)
		}
		return fmt.Errorf("inserting rack %s: %w", rk.ID, err)
	}
	return nil
}

// Get returns a single rack by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Rack, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rk, err := scanRack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning rack %s: %w", id, err)
	}
	return rk, nil
}

// List returns every rack ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rack, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying racks: %w", err)
	}
	defer rows.Close()

	racks := []Rack{}
	for rows.Next() {
		rk, err := scanRack(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rack row: %w", err)
		}
		racks = append(racks, *rk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rack rows: %w", err)
	}
	return racks, nil
}

// Update replaces the mutable fields of an existing rack.
func (r *SQLiteRepository) Update(ctx context.Context, rk *Rack) error {
	rk.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE racks SET name = ?, location = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		rk.Name, nullStr(rk.Location), boolToInt(rk.IsActive), formatTime(rk.UpdatedAt), rk.ID)
	if err != nil {
		return fmt.Errorf("updating rack %s: %w", rk.ID, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return ErrRackNotFound
	}
	return nil
}

// Delete removes a rack. Its rules are left in place.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM racks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rack %s: %w", id, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return ErrRackNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRack(row rowScanner) (*Rack, error) {
	var rk Rack
	var location sql.NullString
	var active int
	var createdAt, updatedAt string

	if err := row.Scan(&rk.ID, &rk.Name, &location, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if location.Valid {
		rk.Location = &location.String
	}
	rk.IsActive = active == 1
	rk.CreatedAt = parseTime(createdAt)
	rk.UpdatedAt = parseTime(updatedAt)
	return &rk, nil
}

// nullStr converts a *string to a sql.NullString for nullable columns.
func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime returns the zero time for malformed values.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
