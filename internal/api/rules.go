package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/growrack-core/internal/automation"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// handleListRules returns rules in evaluation order.
//
// Query parameters:
//   - rack_id: only rules of this rack
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rackID := r.URL.Query().Get("rack_id")
	if len(rackID) > maxQueryParamLen {
		writeBadRequest(w, "rack_id exceeds maximum length")
		return
	}

	rules, err := s.rules.ListRules(r.Context(), rackID)
	if err != nil {
		writeInternalError(w, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// handleGetRule returns a single rule by ID.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	rule, err := s.rules.GetRule(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleCreateRule creates a rule. Rules are enabled unless the body says
// otherwise.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule := automation.AutomationRule{IsEnabled: true}
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
		s.writeDomainError(w, err, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule partially updates a rule: the body is decoded onto the
// stored rule. last_triggered_at and created_at are not writable.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	existing, err := s.rules.GetRule(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "failed to get rule")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id

	if err := s.rules.UpdateRule(r.Context(), existing); err != nil {
		s.writeDomainError(w, err, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteRule removes a rule by ID.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	if err := s.rules.DeleteRule(r.Context(), id); err != nil {
		s.writeDomainError(w, err, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ruleIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid rule ID")
		return "", false
	}
	return id, true
}
