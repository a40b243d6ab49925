package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/rack"
)

// Error is the JSON body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
)

// errorMapping binds a domain sentinel to its HTTP rendering. When expose
// is set the wrapped error text is returned to the caller; otherwise the
// fixed message is.
type errorMapping struct {
	target  error
	status  int
	code    string
	message string
	expose  bool
}

// domainErrors is checked in order; the first errors.Is match wins.
var domainErrors = []errorMapping{
	{automation.ErrRuleNotFound, http.StatusNotFound, ErrCodeNotFound, "rule not found", false},
	{rack.ErrRackNotFound, http.StatusNotFound, ErrCodeNotFound, "rack not found", false},
	{automation.ErrRuleExists, http.StatusConflict, ErrCodeConflict, "", true},
	{rack.ErrRackExists, http.StatusConflict, ErrCodeConflict, "", true},
	{automation.ErrInvalidRule, http.StatusBadRequest, ErrCodeValidation, "", true},
	{automation.ErrInvalidName, http.StatusBadRequest, ErrCodeValidation, "", true},
	{automation.ErrInvalidCondition, http.StatusBadRequest, ErrCodeValidation, "", true},
	{automation.ErrInvalidAction, http.StatusBadRequest, ErrCodeValidation, "", true},
	{automation.ErrNoConditions, http.StatusBadRequest, ErrCodeValidation, "", true},
	{automation.ErrNoActions, http.StatusBadRequest, ErrCodeValidation, "", true},
	{rack.ErrInvalidRack, http.StatusBadRequest, ErrCodeValidation, "", true},
}

// writeDomainError renders a registry error. Unmapped errors are logged and
// answered with a 500 carrying only fallback.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	for _, m := range domainErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if m.expose {
			msg = err.Error()
		}
		writeError(w, m.status, m.code, msg)
		return
	}

	s.logger.Error(fallback, "error", err)
	writeInternalError(w, fallback)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}
