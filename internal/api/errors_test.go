package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/rack"
)

func TestWriteDomainError(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"rule not found", fmt.Errorf("get: %w", automation.ErrRuleNotFound), http.StatusNotFound, ErrCodeNotFound, "rule not found"},
		{"rack not found", rack.ErrRackNotFound, http.StatusNotFound, ErrCodeNotFound, "rack not found"},
		{"conflict exposes detail", fmt.Errorf("%w: rule-1", automation.ErrRuleExists), http.StatusConflict, ErrCodeConflict, automation.ErrRuleExists.Error() + ": rule-1"},
		{"validation", fmt.Errorf("%w: conditions", automation.ErrNoConditions), http.StatusBadRequest, ErrCodeValidation, automation.ErrNoConditions.Error() + ": conditions"},
		{"unmapped hides detail", errors.New("disk I/O error"), http.StatusInternalServerError, ErrCodeInternal, "failed to save"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			env.srv.writeDomainError(w, tt.err, "failed to save")

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := decode[Error](t, w)
			if body.Code != tt.code || body.Message != tt.message {
				t.Errorf("body = %+v, want code %q message %q", body, tt.code, tt.message)
			}
		})
	}
}
