package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/growrack-core/internal/events"
	"github.com/nerrad567/growrack-core/internal/rack"
)

// rackPatch is the body of PATCH /racks/{id}. Absent fields are unchanged.
type rackPatch struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
	IsActive *bool   `json:"is_active"`
}

// handleListRacks returns every registered rack.
func (s *Server) handleListRacks(w http.ResponseWriter, _ *http.Request) {
	if s.racks == nil {
		writeUnavailable(w, "rack registry not configured")
		return
	}
	racks := s.racks.List()
	writeJSON(w, http.StatusOK, map[string]any{"racks": racks, "count": len(racks)})
}

// handleGetRack returns one rack.
func (s *Server) handleGetRack(w http.ResponseWriter, r *http.Request) {
	if s.racks == nil {
		writeUnavailable(w, "rack registry not configured")
		return
	}
	rk, err := s.racks.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get rack")
		return
	}
	writeJSON(w, http.StatusOK, rk)
}

// handleCreateRack registers a rack. Racks are active unless the body says
// otherwise.
func (s *Server) handleCreateRack(w http.ResponseWriter, r *http.Request) {
	if s.racks == nil {
		writeUnavailable(w, "rack registry not configured")
		return
	}

	rk := rack.Rack{IsActive: true}
	if err := json.NewDecoder(r.Body).Decode(&rk); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.racks.Create(r.Context(), &rk); err != nil {
		s.writeDomainError(w, err, "failed to create rack")
		return
	}
	writeJSON(w, http.StatusCreated, rk)
}

// handleUpdateRack renames, relocates, activates or deactivates a rack.
// Deactivation stops the rack's automation worker.
func (s *Server) handleUpdateRack(w http.ResponseWriter, r *http.Request) {
	if s.racks == nil {
		writeUnavailable(w, "rack registry not configured")
		return
	}

	rk, err := s.racks.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get rack")
		return
	}

	var patch rackPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if patch.Name != nil {
		rk.Name = *patch.Name
	}
	if patch.Location != nil {
		rk.Location = patch.Location
	}
	if patch.IsActive != nil {
		rk.IsActive = *patch.IsActive
	}

	if err := s.racks.Update(r.Context(), rk); err != nil {
		s.writeDomainError(w, err, "failed to update rack")
		return
	}
	writeJSON(w, http.StatusOK, rk)
}

// handleDeleteRack removes a rack record. Its rules are kept.
func (s *Server) handleDeleteRack(w http.ResponseWriter, r *http.Request) {
	if s.racks == nil {
		writeUnavailable(w, "rack registry not configured")
		return
	}
	if err := s.racks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err, "failed to delete rack")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListRackEvents returns the rack's automation events, newest first.
//
// Query parameters:
//   - limit: page size (default 50, max 200)
//   - offset: number of events to skip
func (s *Server) handleListRackEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event history not configured")
		return
	}
	filter, ok := historyFilter(w, r)
	if !ok {
		return
	}

	page, err := s.events.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing automation events", "rack_id", filter.RackID, "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleListRackFailures returns the rack's dispatch failures, newest first.
func (s *Server) handleListRackFailures(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event history not configured")
		return
	}
	filter, ok := historyFilter(w, r)
	if !ok {
		return
	}

	page, err := s.events.ListFailures(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing dispatch failures", "rack_id", filter.RackID, "error", err)
		writeInternalError(w, "failed to list failures")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// historyFilter builds an audit filter from the rack path parameter and the
// paging query parameters.
func historyFilter(w http.ResponseWriter, r *http.Request) (events.Filter, bool) {
	filter := events.Filter{RackID: chi.URLParam(r, "id")}
	if filter.RackID == "" || len(filter.RackID) > maxQueryParamLen {
		writeBadRequest(w, "invalid rack ID")
		return filter, false
	}

	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return filter, false
		}
		*p.dst = n
	}
	return filter, true
}
