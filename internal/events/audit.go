package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/growrack-core/internal/automation"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Filter controls which audit records to return.
type Filter struct {
	RackID string // optional
	Limit  int    // default 50, max 200
	Offset int
}

func (f Filter) normalised() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) where() (string, []any) {
	if f.RackID == "" {
		return "", nil
	}
	return "WHERE rack_id = ?", []any{f.RackID}
}

// EventPage is a page of automation events, most recent first.
type EventPage struct {
	Events []automation.AutomatedEvent `json:"events"`
	Total  int                         `json:"total"`
	Limit  int                         `json:"limit"`
	Offset int                         `json:"offset"`
}

// FailurePage is a page of dispatch failures, most recent first.
type FailurePage struct {
	Failures []automation.DispatchFailure `json:"failures"`
	Total    int                          `json:"total"`
	Limit    int                          `json:"limit"`
	Offset   int                          `json:"offset"`
}

// AuditStore persists automation events and dispatch failures in SQLite.
// Both tables are append-only.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates a store over db.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Emit implements automation.EventSink.
func (s *AuditStore) Emit(ctx context.Context, e automation.AutomatedEvent) error {
	return s.Append(ctx, e)
}

// Append stores one automation event. An empty ID is generated.
func (s *AuditStore) Append(ctx context.Context, e automation.AutomatedEvent) error {
	if e.ID == "" {
		e.ID = automation.GenerateID()
	}
	actions, err := json.Marshal(e.ExecutedActions)
	if err != nil {
		return fmt.Errorf("marshalling executed actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automation_events (id, rack_id, rule_id, rule_name, executed_actions, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.RackID, nullableString(e.RuleID), e.RuleName, string(actions),
		automation.FormatTimestamp(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting automation event: %w", err)
	}
	return nil
}

// RecordFailure implements automation.FailureSink.
func (s *AuditStore) RecordFailure(ctx context.Context, f automation.DispatchFailure) error {
	if f.ID == "" {
		f.ID = automation.GenerateID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_failures (id, rack_id, rule_id, channel, command, reason, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RackID, f.RuleID, string(f.Channel), f.Command, f.Reason,
		automation.FormatTimestamp(f.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("inserting dispatch failure: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListEvents returns automation events matching the filter.
func (s *AuditStore) ListEvents(ctx context.Context, filter Filter) (*EventPage, error) {
	filter = filter.normalised()
	where, args := filter.where()

	total, err := s.count(ctx, "automation_events", where, args)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, rack_id, rule_id, rule_name, executed_actions, occurred_at
		 FROM automation_events %s ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying automation events: %w", err)
	}
	defer rows.Close()

	events := []automation.AutomatedEvent{}
	for rows.Next() {
		var e automation.AutomatedEvent
		var ruleID sql.NullString
		var actions, occurredAt string
		if err := rows.Scan(&e.ID, &e.RackID, &ruleID, &e.RuleName, &actions, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning automation event: %w", err)
		}
		e.RuleID = ruleID.String
		if err := json.Unmarshal([]byte(actions), &e.ExecutedActions); err != nil {
			return nil, fmt.Errorf("decoding executed actions of %s: %w", e.ID, err)
		}
		if e.Timestamp, err = automation.ParseTimestamp(occurredAt); err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", occurredAt, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automation events: %w", err)
	}

	return &EventPage{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// ListFailures returns dispatch failures matching the filter.
func (s *AuditStore) ListFailures(ctx context.Context, filter Filter) (*FailurePage, error) {
	filter = filter.normalised()
	where, args := filter.where()

	total, err := s.count(ctx, "dispatch_failures", where, args)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, rack_id, rule_id, channel, command, reason, occurred_at
		 FROM dispatch_failures %s ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying dispatch failures: %w", err)
	}
	defer rows.Close()

	failures := []automation.DispatchFailure{}
	for rows.Next() {
		var f automation.DispatchFailure
		var channel, occurredAt string
		if err := rows.Scan(&f.ID, &f.RackID, &f.RuleID, &channel, &f.Command, &f.Reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning dispatch failure: %w", err)
		}
		f.Channel = automation.Channel(channel)
		if f.OccurredAt, err = automation.ParseTimestamp(occurredAt); err != nil {
			return nil, fmt.Errorf("parsing failure timestamp %q: %w", occurredAt, err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatch failures: %w", err)
	}

	return &FailurePage{Failures: failures, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *AuditStore) count(ctx context.Context, table, where string, args []any) (int, error) {
	var total int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where) //nolint:gosec // table is a constant, WHERE is parameterised
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return total, nil
}
