package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/events"
	"github.com/nerrad567/growrack-core/internal/rack"
)

func seedRack(t *testing.T, env *testEnv, id string) {
	t.Helper()
	if err := env.racks.Create(context.Background(), &rack.Rack{ID: id, Name: "Rack " + id, IsActive: true}); err != nil {
		t.Fatalf("seeding rack: %v", err)
	}
}

// ─── CRUD ──────────────────────────────────────────────────────────

func TestCreateRack(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/racks", env.token(t), map[string]any{
		"id":       "rack-a",
		"name":     "Seedlings",
		"location": "greenhouse 1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
	got := decode[rack.Rack](t, w)
	if !got.IsActive {
		t.Error("rack should default to active")
	}
	if got.Location == nil || *got.Location != "greenhouse 1" {
		t.Errorf("Location = %v", got.Location)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/racks", env.token(t), map[string]any{"id": "rack-a", "name": "Again"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/racks", env.token(t), map[string]any{"id": "bad id!", "name": "X"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}
}

func TestListAndGetRacks(t *testing.T) {
	env := newTestEnv(t)
	seedRack(t, env, "rack-b")
	seedRack(t, env, "rack-a")

	w := env.do(t, http.MethodGet, "/api/v1/racks", "", nil)
	resp := decode[struct {
		Racks []rack.Rack `json:"racks"`
		Count int         `json:"count"`
	}](t, w)
	if resp.Count != 2 || resp.Racks[0].ID != "rack-a" {
		t.Errorf("racks = %+v, want rack-a first of 2", resp.Racks)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/racks/rack-b", "", nil); w.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/racks/nope", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}

func TestUpdateRack_DeactivateStopsWorker(t *testing.T) {
	env := newTestEnv(t)
	seedRack(t, env, "rack-a")

	w := env.do(t, http.MethodPatch, "/api/v1/racks/rack-a", env.token(t), map[string]any{"is_active": false})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if decode[rack.Rack](t, w).IsActive {
		t.Error("rack still active in response")
	}
	if env.racks.IsActive("rack-a") {
		t.Error("registry still reports rack active")
	}

	stopped := env.engine.stoppedRacks()
	if len(stopped) != 1 || stopped[0] != "rack-a" {
		t.Errorf("stopped = %v, want [rack-a]", stopped)
	}
	if _, ok := env.engine.RackState("rack-a"); ok {
		t.Error("worker still running after deactivation")
	}
}

func TestUpdateRack_Rename(t *testing.T) {
	env := newTestEnv(t)
	seedRack(t, env, "rack-a")

	w := env.do(t, http.MethodPatch, "/api/v1/racks/rack-a", env.token(t), map[string]any{"name": "Herbs"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := decode[rack.Rack](t, w)
	if got.Name != "Herbs" || !got.IsActive {
		t.Errorf("rack = %+v", got)
	}
	if len(env.engine.stoppedRacks()) != 0 {
		t.Error("rename of an active rack stopped its worker")
	}

	if w := env.do(t, http.MethodPatch, "/api/v1/racks/rack-a", env.token(t), map[string]any{"name": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", w.Code)
	}
}

func TestDeleteRack(t *testing.T) {
	env := newTestEnv(t)
	seedRack(t, env, "rack-a")

	if w := env.do(t, http.MethodDelete, "/api/v1/racks/rack-a", env.token(t), nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/racks/rack-a", env.token(t), nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestRacks_RegistryNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.srv.racks = nil
	env.srv.events = nil
	env.router = env.srv.buildRouter()

	for _, path := range []string{"/api/v1/racks", "/api/v1/racks/rack-a/events", "/api/v1/racks/rack-a/failures"} {
		if w := env.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", path, w.Code)
		}
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestListRackEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := env.audit.Append(ctx, automation.AutomatedEvent{
			RackID:          "rack-a",
			RuleID:          "rule-1",
			RuleName:        "Dry soil",
			ExecutedActions: []string{"watering:start 5000ms"},
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := env.audit.Append(ctx, automation.AutomatedEvent{
		RackID:          "rack-b",
		ExecutedActions: []string{"grow_light:on"},
		Timestamp:       base,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/racks/rack-a/events?limit=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decode[events.EventPage](t, w)
	if page.Total != 3 || page.Limit != 2 || len(page.Events) != 2 {
		t.Fatalf("page = total %d limit %d len %d", page.Total, page.Limit, len(page.Events))
	}
	if !page.Events[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("first event at %v, want newest", page.Events[0].Timestamp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/racks/rack-a/events?limit=2&offset=2", "", nil)
	if page := decode[events.EventPage](t, w); len(page.Events) != 1 {
		t.Errorf("second page len = %d, want 1", len(page.Events))
	}
}

func TestListRackEvents_BadPaging(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"limit=abc", "offset=-1"} {
		if w := env.do(t, http.MethodGet, "/api/v1/racks/rack-a/events?"+q, "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestListRackFailures(t *testing.T) {
	env := newTestEnv(t)
	if err := env.audit.RecordFailure(context.Background(), automation.DispatchFailure{
		RackID:     "rack-a",
		RuleID:     "rule-1",
		Channel:    automation.ChannelWatering,
		Command:    "watering:start 5000ms",
		Reason:     "ack timeout",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/racks/rack-a/failures", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decode[events.FailurePage](t, w)
	if page.Total != 1 || page.Failures[0].Reason != "ack timeout" {
		t.Errorf("failures page = %+v", page)
	}

	w = env.do(t, http.MethodGet, "/api/v1/racks/rack-b/failures", "", nil)
	if page := decode[events.FailurePage](t, w); page.Total != 0 || page.Failures == nil {
		t.Errorf("empty page = %+v, want zero total and non-nil slice", page)
	}
}
