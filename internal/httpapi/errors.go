package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
)

// errorEnvelope is the uniform error shape.
type errorEnvelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	// BlockingReasons is surfaced at the top level for gate refusals so
	// clients do not have to dig through details.
	BlockingReasons []string `json:"blocking_reasons,omitempty"`
}

// writeError classifies err through the taxonomy and writes the envelope.
// Unclassified errors become internal and are logged at error level.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	env := errorEnvelope{
		Error:     string(kind),
		Message:   err.Error(),
		ProjectID: r.URL.Query().Get("project"),
		SessionID: sessionIDFrom(r.Context()),
		RequestID: requestIDFrom(r.Context()),
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		env.Details = ae.Details
		if reasons, ok := ae.Details["blocking_reasons"].([]string); ok {
			env.BlockingReasons = reasons
		}
	}
	if kind == apperr.KindInternal {
		s.log.Error("internal error",
			zap.String("request_id", env.RequestID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.writeJSONStatus(w, kind.HTTPStatus(), env)
}

// writeForbidden refuses a caller without the required role.
func (s *Server) writeForbidden(w http.ResponseWriter, r *http.Request, role string) {
	s.writeJSONStatus(w, http.StatusForbidden, errorEnvelope{
		Error:     string(apperr.KindInvalidRequest),
		Message:   "missing or insufficient API key for role " + role,
		RequestID: requestIDFrom(r.Context()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	s.writeJSONStatus(w, http.StatusOK, v)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

// decode parses a JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("invalid request body: %v", err)
	}
	return nil
}
