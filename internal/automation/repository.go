package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampFormat is the fixed-width UTC layout used for every stored
// timestamp, so string comparison in SQL matches time order.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampFormat.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses a TimestampFormat (or plain RFC3339) string.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Repository defines the interface for rule persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*AutomationRule, error)
	List(ctx context.Context) ([]AutomationRule, error)
	ListRulesForRack(ctx context.Context, rackID string) ([]AutomationRule, error)
	Create(ctx context.Context, rule *AutomationRule) error
	Update(ctx context.Context, rule *AutomationRule) error
	Delete(ctx context.Context, id string) error

	// UpdateLastTriggered only ever moves last_triggered_at forward.
	UpdateLastTriggered(ctx context.Context, id string, ts time.Time) error
}

// ruleColumns is the SELECT column list for rule queries.
const ruleColumns = `id, rack_id, name, description, conditions, actions,
			cooldown_minutes, is_enabled, last_triggered_at, created_at, updated_at`

// ruleOrder is the stable evaluation order within a rack.
const ruleOrder = ` ORDER BY created_at, id`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by id: %w", err)
	}
	return rule, nil
}

// List retrieves every rule, grouped by rack, each rack in evaluation order.
func (r *SQLiteRepository) List(ctx context.Context) ([]AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules ORDER BY rack_id, created_at, id`
	return r.queryRules(ctx, query)
}

// ListRulesForRack retrieves a rack's rules in evaluation order.
func (r *SQLiteRepository) ListRulesForRack(ctx context.Context, rackID string) ([]AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE rack_id = ?` + ruleOrder
	return r.queryRules(ctx, query, rackID)
}

// Create inserts a new rule. CreatedAt is kept if set, so imports can
// preserve evaluation order; timestamps are truncated to milliseconds.
func (r *SQLiteRepository) Create(ctx context.Context, rule *AutomationRule) error {
	conditionsJSON, actionsJSON, err := marshalRuleDocs(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.CreatedAt = rule.CreatedAt.UTC().Truncate(time.Millisecond)
	rule.UpdatedAt = now

	query := `
		INSERT INTO automation_rules (
			id, rack_id, name, description, conditions, actions,
			cooldown_minutes, is_enabled, last_triggered_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.RackID,
		rule.Name,
		nullableString(rule.Description),
		conditionsJSON,
		actionsJSON,
		rule.CooldownMinutes,
		boolToInt(rule.IsEnabled),
		nullableTime(rule.LastTriggeredAt),
		FormatTimestamp(rule.CreatedAt),
		FormatTimestamp(rule.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule's definition. last_triggered_at and
// created_at are left alone: the first belongs to the engine, the second
// fixes evaluation order.
func (r *SQLiteRepository) Update(ctx context.Context, rule *AutomationRule) error {
	conditionsJSON, actionsJSON, err := marshalRuleDocs(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	query := `
		UPDATE automation_rules SET
			rack_id = ?, name = ?, description = ?, conditions = ?, actions = ?,
			cooldown_minutes = ?, is_enabled = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.RackID,
		rule.Name,
		nullableString(rule.Description),
		conditionsJSON,
		actionsJSON,
		rule.CooldownMinutes,
		boolToInt(rule.IsEnabled),
		FormatTimestamp(rule.UpdatedAt),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automation_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// UpdateLastTriggered advances a rule's last_triggered_at to ts. A ts not
// after the stored value is a successful no-op.
func (r *SQLiteRepository) UpdateLastTriggered(ctx context.Context, id string, ts time.Time) error {
	stamp := FormatTimestamp(ts)
	result, err := r.db.ExecContext(ctx, `
		UPDATE automation_rules SET last_triggered_at = ?
		WHERE id = ? AND (last_triggered_at IS NULL OR last_triggered_at < ?)`,
		stamp, id, stamp,
	)
	if err != nil {
		return fmt.Errorf("updating last_triggered_at: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM automation_rules WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRuleNotFound
	}
	if err != nil {
		return fmt.Errorf("checking rule exists: %w", err)
	}
	return nil
}

// queryRules executes a query and returns a slice of rules.
func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []AutomationRule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(scanner rowScanner) (*AutomationRule, error) {
	var rule AutomationRule
	var description, lastTriggered sql.NullString
	var conditionsJSON, actionsJSON string
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rule.ID,
		&rule.RackID,
		&rule.Name,
		&description,
		&conditionsJSON,
		&actionsJSON,
		&rule.CooldownMinutes,
		&enabled,
		&lastTriggered,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		rule.Description = &description.String
	}
	rule.IsEnabled = enabled != 0

	if lastTriggered.Valid {
		t, parseErr := ParseTimestamp(lastTriggered.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing last_triggered_at: %w", parseErr)
		}
		rule.LastTriggeredAt = &t
	}
	if t, parseErr := ParseTimestamp(createdAt); parseErr == nil {
		rule.CreatedAt = t
	}
	if t, parseErr := ParseTimestamp(updatedAt); parseErr == nil {
		rule.UpdatedAt = t
	}

	if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshalling conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rule.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions: %w", err)
	}

	return &rule, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalRuleDocs(rule *AutomationRule) (conditions, actions string, err error) {
	c, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling conditions: %w", err)
	}
	a, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	return string(c), string(a), nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTimestamp(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
