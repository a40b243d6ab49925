package automation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/growrack-core/internal/infrastructure/database"
	"github.com/nerrad567/growrack-core/migrations"
)

// setupTestDB opens an in-memory database with every migration applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

func TestSQLiteRepository_Create(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("create success", func(t *testing.T) {
		rule := testRule("rule-01", "rack-a", 0, RuleCondition{Moisture: below(30)}, waterStart(5000))
		desc := "Water when the substrate dries out"
		rule.Description = &desc
		rule.CooldownMinutes = 10
		rule.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)

		if err := repo.Create(ctx, &rule); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if rule.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}
		if rule.CreatedAt.Nanosecond() != 123000000 {
			t.Errorf("CreatedAt not truncated to ms: %v", rule.CreatedAt)
		}

		got, err := repo.GetByID(ctx, "rule-01")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Description == nil || *got.Description != desc {
			t.Errorf("Description = %v, want %q", got.Description, desc)
		}
		if !got.IsEnabled || got.CooldownMinutes != 10 {
			t.Errorf("IsEnabled/CooldownMinutes = %v/%d", got.IsEnabled, got.CooldownMinutes)
		}
		if got.Conditions.Moisture == nil || *got.Conditions.Moisture.LessThan != 30 {
			t.Errorf("Conditions = %+v, want moisture < 30", got.Conditions)
		}
		if got.Conditions.Temperature != nil {
			t.Error("Temperature bound should round-trip as nil")
		}
		if w := got.Actions.Watering; w == nil || w.Action != WateringStart || *w.DurationMS != 5000 {
			t.Errorf("Actions.Watering = %+v, want start 5000", w)
		}
		if !got.CreatedAt.Equal(rule.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rule.CreatedAt)
		}
	})

	t.Run("duplicate ID", func(t *testing.T) {
		rule := testRule("rule-01", "rack-a", 0, RuleCondition{Moisture: below(30)}, waterStop())
		if err := repo.Create(ctx, &rule); !errors.Is(err, ErrRuleExists) {
			t.Errorf("expected ErrRuleExists, got: %v", err)
		}
	})
}

func TestSQLiteRepository_GetByID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got: %v", err)
	}
}

func TestSQLiteRepository_ListRulesForRack_Order(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	cond := RuleCondition{Moisture: below(30)}

	// Inserted out of order; "b" and "c" share created_at so id breaks the tie.
	rules := []AutomationRule{
		testRule("c", "rack-a", time.Minute, cond, waterStop()),
		testRule("a", "rack-a", 2*time.Minute, cond, waterStop()),
		testRule("b", "rack-a", time.Minute, cond, waterStop()),
		testRule("z", "rack-b", 0, cond, waterStop()),
	}
	for i := range rules {
		if err := repo.Create(ctx, &rules[i]); err != nil {
			t.Fatalf("Create(%s): %v", rules[i].ID, err)
		}
	}

	got, err := repo.ListRulesForRack(ctx, "rack-a")
	if err != nil {
		t.Fatalf("ListRulesForRack: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	want := []string{"b", "c", "a"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("List returned %d rules, want 4", len(all))
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := testRule("rule-01", "rack-a", 0, RuleCondition{Moisture: below(30)}, waterStart(5000))
	if err := repo.Create(ctx, &rule); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.UpdateLastTriggered(ctx, "rule-01", baseTime); err != nil {
		t.Fatalf("UpdateLastTriggered: %v", err)
	}

	rule.Name = "Renamed"
	rule.IsEnabled = false
	rule.LastTriggeredAt = nil // Update must not touch the engine's field
	if err := repo.Update(ctx, &rule); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByID(ctx, "rule-01")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Renamed" || got.IsEnabled {
		t.Errorf("got Name=%q IsEnabled=%v", got.Name, got.IsEnabled)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(baseTime) {
		t.Errorf("LastTriggeredAt = %v, want %v", got.LastTriggeredAt, baseTime)
	}

	missing := testRule("missing", "rack-a", 0, RuleCondition{Moisture: below(30)}, waterStop())
	if err := repo.Update(ctx, &missing); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Update(missing) = %v, want ErrRuleNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := testRule("rule-01", "rack-a", 0, RuleCondition{Moisture: below(30)}, waterStop())
	if err := repo.Create(ctx, &rule); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, "rule-01"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "rule-01"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("second Delete = %v, want ErrRuleNotFound", err)
	}
}

func TestSQLiteRepository_UpdateLastTriggered(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := testRule("rule-01", "rack-a", 0, RuleCondition{Moisture: below(30)}, waterStop())
	if err := repo.Create(ctx, &rule); err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := baseTime.Add(10 * time.Minute)
	if err := repo.UpdateLastTriggered(ctx, "rule-01", later); err != nil {
		t.Fatalf("UpdateLastTriggered: %v", err)
	}
	// Older timestamps are accepted but ignored.
	if err := repo.UpdateLastTriggered(ctx, "rule-01", baseTime); err != nil {
		t.Fatalf("UpdateLastTriggered(older): %v", err)
	}

	got, err := repo.GetByID(ctx, "rule-01")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(later) {
		t.Errorf("LastTriggeredAt = %v, want %v", got.LastTriggeredAt, later)
	}

	if err := repo.UpdateLastTriggered(ctx, "missing", later); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("UpdateLastTriggered(missing) = %v, want ErrRuleNotFound", err)
	}
}

func TestSQLiteRepository_StorageErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	mock.ExpectQuery("SELECT (.+) FROM automation_rules WHERE rack_id = ?").
		WithArgs("rack-a").
		WillReturnError(boom)
	if _, err := repo.ListRulesForRack(ctx, "rack-a"); !errors.Is(err, boom) {
		t.Errorf("ListRulesForRack error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectExec("UPDATE automation_rules SET last_triggered_at").
		WillReturnError(boom)
	if err := repo.UpdateLastTriggered(ctx, "rule-01", baseTime); !errors.Is(err, boom) {
		t.Errorf("UpdateLastTriggered error = %v, want wrapped %v", err, boom)
	}

	rows := sqlmock.NewRows([]string{
		"id", "rack_id", "name", "description", "conditions", "actions",
		"cooldown_minutes", "is_enabled", "last_triggered_at", "created_at", "updated_at",
	}).AddRow("r1", "rack-a", "bad", nil, "{not json", "{}", 0, 1, nil,
		"2026-03-01T09:00:00.000Z", "2026-03-01T09:00:00.000Z")
	mock.ExpectQuery("SELECT (.+) FROM automation_rules WHERE rack_id = ?").WillReturnRows(rows)
	if _, err := repo.ListRulesForRack(ctx, "rack-a"); err == nil {
		t.Error("expected error for corrupt conditions document")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
