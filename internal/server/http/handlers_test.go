package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/database"
	"github.com/helixir/search-outbox/internal/domain"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockAdmin implements AdminService for HTTP handler tests.
type mockAdmin struct {
	countAbortedFn   func(ctx context.Context, tenantID string) (int64, error)
	reprocessFn      func(ctx context.Context, tenantID string) (int64, error)
	clearFn          func(ctx context.Context, tenantID string) (int64, error)
	countPendingFn   func(ctx context.Context, tenantID string) (int64, error)
	listAgentsFn     func(ctx context.Context) ([]*domain.Agent, error)
	suspendAgentFn   func(ctx context.Context, id uuid.UUID) error
	resumeAgentFn    func(ctx context.Context, id uuid.UUID) error
	lastTenantID     string
	lastAgentID      uuid.UUID
	tenantOperations int
}

func (m *mockAdmin) call(fn func(context.Context, string) (int64, error), ctx context.Context, tenantID string) (int64, error) {
	m.lastTenantID = tenantID
	m.tenantOperations++
	if fn != nil {
		return fn(ctx, tenantID)
	}
	return 0, nil
}

func (m *mockAdmin) CountAbortedEvents(ctx context.Context, tenantID string) (int64, error) {
	return m.call(m.countAbortedFn, ctx, tenantID)
}

func (m *mockAdmin) ReprocessAbortedEvents(ctx context.Context, tenantID string) (int64, error) {
	return m.call(m.reprocessFn, ctx, tenantID)
}

func (m *mockAdmin) ClearAllAbortedEvents(ctx context.Context, tenantID string) (int64, error) {
	return m.call(m.clearFn, ctx, tenantID)
}

func (m *mockAdmin) CountPendingEvents(ctx context.Context, tenantID string) (int64, error) {
	return m.call(m.countPendingFn, ctx, tenantID)
}

func (m *mockAdmin) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	if m.listAgentsFn != nil {
		return m.listAgentsFn(ctx)
	}
	return nil, nil
}

func (m *mockAdmin) SuspendAgent(ctx context.Context, id uuid.UUID) error {
	m.lastAgentID = id
	if m.suspendAgentFn != nil {
		return m.suspendAgentFn(ctx, id)
	}
	return nil
}

func (m *mockAdmin) ResumeAgent(ctx context.Context, id uuid.UUID) error {
	m.lastAgentID = id
	if m.resumeAgentFn != nil {
		return m.resumeAgentFn(ctx, id)
	}
	return nil
}

// mockHealth implements HealthChecker.
type mockHealth struct {
	status string
}

func (m mockHealth) Health(_ context.Context) database.HealthStatus {
	return database.HealthStatus{Status: m.status}
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestHTTPServer(admin AdminService) *Server {
	return NewServer(Config{Address: ":0"}, admin, mockHealth{status: "healthy"}, zerolog.Nop())
}

// serveHTTP dispatches a request through the test server's router and returns the recorder.
func serveHTTP(s *Server, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, r)
	return rr
}

// decodeJSON decodes a JSON response body into the given target.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Tests: event operations
// ---------------------------------------------------------------------------

func TestEventRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantTenant string
	}{
		{name: "count aborted global", method: http.MethodGet, path: "/api/v1/events/aborted/count"},
		{name: "count aborted tenant", method: http.MethodGet, path: "/api/v1/tenants/t1/events/aborted/count", wantTenant: "t1"},
		{name: "reprocess global", method: http.MethodPost, path: "/api/v1/events/aborted/reprocess"},
		{name: "reprocess tenant", method: http.MethodPost, path: "/api/v1/tenants/t2/events/aborted/reprocess", wantTenant: "t2"},
		{name: "clear global", method: http.MethodDelete, path: "/api/v1/events/aborted"},
		{name: "clear tenant", method: http.MethodDelete, path: "/api/v1/tenants/t1/events/aborted", wantTenant: "t1"},
		{name: "count pending global", method: http.MethodGet, path: "/api/v1/events/pending/count"},
		{name: "count pending tenant", method: http.MethodGet, path: "/api/v1/tenants/t3/events/pending/count", wantTenant: "t3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			respond := func(_ context.Context, _ string) (int64, error) { return 7, nil }
			admin := &mockAdmin{countAbortedFn: respond, reprocessFn: respond, clearFn: respond, countPendingFn: respond}
			s := newTestHTTPServer(admin)

			rr := serveHTTP(s, httptest.NewRequest(tt.method, tt.path, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if admin.tenantOperations != 1 {
				t.Fatalf("expected exactly one admin call, got %d", admin.tenantOperations)
			}
			if admin.lastTenantID != tt.wantTenant {
				t.Errorf("expected tenant %q, got %q", tt.wantTenant, admin.lastTenantID)
			}

			var resp countResponse
			decodeJSON(t, rr, &resp)
			if resp.Count != 7 {
				t.Errorf("expected count 7, got %d", resp.Count)
			}
			if resp.TenantID != tt.wantTenant {
				t.Errorf("expected tenant_id %q in response, got %q", tt.wantTenant, resp.TenantID)
			}
		})
	}
}

func TestCountAbortedEvents_ConfigurationError(t *testing.T) {
	admin := &mockAdmin{
		countAbortedFn: func(_ context.Context, _ string) (int64, error) {
			return 0, domain.NewConfigurationError("count_aborted_events", "multi-tenancy is disabled, tenant id must be empty")
		},
	}
	s := newTestHTTPServer(admin)

	rr := serveHTTP(s, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1/events/aborted/count", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	want := "configuration error: count_aborted_events: multi-tenancy is disabled, tenant id must be empty"
	if resp["error"] != want {
		t.Errorf("expected error %q, got %q", want, resp["error"])
	}
}

func TestClearAbortedEvents_InternalError(t *testing.T) {
	admin := &mockAdmin{
		clearFn: func(_ context.Context, _ string) (int64, error) {
			return 0, errors.New("pq: connection to 10.0.0.5:5432 refused")
		},
	}
	s := newTestHTTPServer(admin)

	rr := serveHTTP(s, httptest.NewRequest(http.MethodDelete, "/api/v1/events/aborted", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["error"] != "internal server error" {
		t.Errorf("expected generic error, got %q", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// Tests: agent operations
// ---------------------------------------------------------------------------

func TestListAgents_Success(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	withShard := &domain.Agent{
		ID:          uuid.New(),
		Type:        domain.AgentTypeEventProcessor,
		Name:        "worker-1",
		State:       domain.AgentStateRunning,
		LastPulse:   now,
		TotalShards: 2,
		Assignment:  &domain.ShardAssignment{Index: 1, Range: domain.ShardRange{Lower: 0, Upper: 2147483647}},
		CreatedAt:   now,
	}
	starting := &domain.Agent{ID: uuid.New(), Name: "worker-2", State: domain.AgentStateStarting}

	admin := &mockAdmin{
		listAgentsFn: func(_ context.Context) ([]*domain.Agent, error) {
			return []*domain.Agent{withShard, starting}, nil
		},
	}
	s := newTestHTTPServer(admin)

	rr := serveHTTP(s, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp listAgentsResponse
	decodeJSON(t, rr, &resp)
	if resp.TotalCount != 2 || len(resp.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d/%d", resp.TotalCount, len(resp.Agents))
	}
	first := resp.Agents[0]
	if first.ID != withShard.ID.String() || first.State != "RUNNING" || first.TotalShards != 2 {
		t.Errorf("unexpected agent: %+v", first)
	}
	if first.Assignment == nil || first.Assignment.Index != 1 || first.Assignment.RangeLower != 0 {
		t.Errorf("unexpected assignment: %+v", first.Assignment)
	}
	if resp.Agents[1].Assignment != nil {
		t.Errorf("expected no assignment for starting agent")
	}
}

func TestSuspendResumeAgent(t *testing.T) {
	id := uuid.New()
	admin := &mockAdmin{}
	s := newTestHTTPServer(admin)

	rr := serveHTTP(s, httptest.NewRequest(http.MethodPost, "/api/v1/agents/"+id.String()+"/suspend", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if admin.lastAgentID != id {
		t.Errorf("expected agent %s, got %s", id, admin.lastAgentID)
	}
	var resp agentStateResponse
	decodeJSON(t, rr, &resp)
	if resp.State != "SUSPENDED" {
		t.Errorf("expected SUSPENDED, got %s", resp.State)
	}

	rr = serveHTTP(s, httptest.NewRequest(http.MethodPost, "/api/v1/agents/"+id.String()+"/resume", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	decodeJSON(t, rr, &resp)
	if resp.State != "RUNNING" {
		t.Errorf("expected RUNNING, got %s", resp.State)
	}
}

func TestSuspendAgent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		wantCode int
	}{
		{name: "invalid uuid", path: "/api/v1/agents/not-a-uuid/suspend", wantCode: http.StatusBadRequest},
		{name: "not found", path: "/api/v1/agents/" + uuid.NewString() + "/suspend", err: domain.NewNotFoundError("agent", "x"), wantCode: http.StatusNotFound},
		{name: "invalid transition", path: "/api/v1/agents/" + uuid.NewString() + "/suspend", err: domain.NewTransitionError("agent", "STARTING", "SUSPENDED"), wantCode: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := &mockAdmin{
				suspendAgentFn: func(_ context.Context, _ uuid.UUID) error { return tt.err },
			}
			s := newTestHTTPServer(admin)

			rr := serveHTTP(s, httptest.NewRequest(http.MethodPost, tt.path, nil))
			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Tests: health
// ---------------------------------------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	s := NewServer(Config{}, &mockAdmin{}, mockHealth{status: "unhealthy"}, zerolog.Nop())

	rr := serveHTTP(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected healthz 200, got %d", rr.Code)
	}

	rr = serveHTTP(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected readyz 503, got %d", rr.Code)
	}

	s = newTestHTTPServer(&mockAdmin{})
	rr = serveHTTP(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected readyz 200, got %d", rr.Code)
	}
}
