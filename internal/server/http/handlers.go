package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
)

type countFunc func(ctx context.Context, tenantID string) (int64, error)

// countHandler adapts a tenant-scoped admin operation. The tenant comes from
// the path on tenant routes and is empty on global routes; the admin service
// decides whether that is allowed.
func (s *Server) countHandler(fn countFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := tenantIDFromContext(r.Context())

		n, err := fn(r.Context(), tenantID)
		if err != nil {
			s.logError(r, err)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, countResponse{TenantID: tenantID, Count: n})
	}
}

// countAbortedEvents handles GET /events/aborted/count.
func (s *Server) countAbortedEvents(w http.ResponseWriter, r *http.Request) {
	s.countHandler(s.admin.CountAbortedEvents)(w, r)
}

// reprocessAbortedEvents handles POST /events/aborted/reprocess.
func (s *Server) reprocessAbortedEvents(w http.ResponseWriter, r *http.Request) {
	s.countHandler(s.admin.ReprocessAbortedEvents)(w, r)
}

// clearAbortedEvents handles DELETE /events/aborted.
func (s *Server) clearAbortedEvents(w http.ResponseWriter, r *http.Request) {
	s.countHandler(s.admin.ClearAllAbortedEvents)(w, r)
}

// countPendingEvents handles GET /events/pending/count.
func (s *Server) countPendingEvents(w http.ResponseWriter, r *http.Request) {
	s.countHandler(s.admin.CountPendingEvents)(w, r)
}

// listAgents handles GET /agents.
func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.admin.ListAgents(r.Context())
	if err != nil {
		s.logError(r, err)
		writeDomainError(w, err)
		return
	}

	resp := listAgentsResponse{Agents: make([]agentResponse, len(agents)), TotalCount: len(agents)}
	for i, a := range agents {
		resp.Agents[i] = domainAgentToResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// suspendAgent handles POST /agents/{agentID}/suspend.
func (s *Server) suspendAgent(w http.ResponseWriter, r *http.Request) {
	s.setAgentState(w, r, s.admin.SuspendAgent, domain.AgentStateSuspended)
}

// resumeAgent handles POST /agents/{agentID}/resume.
func (s *Server) resumeAgent(w http.ResponseWriter, r *http.Request) {
	s.setAgentState(w, r, s.admin.ResumeAgent, domain.AgentStateRunning)
}

func (s *Server) setAgentState(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, id uuid.UUID) error,
	state domain.AgentState,
) {
	id, ok := parseUUID(w, chi.URLParam(r, "agentID"), "agent_id")
	if !ok {
		return
	}

	if err := fn(r.Context(), id); err != nil {
		s.logError(r, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentStateResponse{ID: id.String(), State: string(state)})
}

func (s *Server) logError(r *http.Request, err error) {
	event := s.logger.Warn()
	if !isClientError(err) {
		event = s.logger.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("admin request failed")
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrConfiguration) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		cfgErr        *domain.ConfigurationError
		transitionErr *domain.TransitionError
		ve            *domain.ValidationError
	)
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, cfgErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, transitionErr.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}
