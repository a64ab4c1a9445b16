package management

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
	"github.com/syntax-syndicate/codegate-alt/internal/workspace"
)

type fakeProviders struct {
	endpoints map[string]model.ProviderEndpoint
}

func newFakeProviders() *fakeProviders {
	return &fakeProviders{endpoints: make(map[string]model.ProviderEndpoint)}
}

func (f *fakeProviders) Upsert(ep model.ProviderEndpoint)        { f.endpoints[ep.ID] = ep }
func (f *fakeProviders) Remove(id string)                        { delete(f.endpoints, id) }
func (f *fakeProviders) Lookup(id string) (model.ProviderEndpoint, bool) {
	ep, ok := f.endpoints[id]
	return ep, ok
}
func (f *fakeProviders) All() []model.ProviderEndpoint {
	out := make([]model.ProviderEndpoint, 0, len(f.endpoints))
	for _, ep := range f.endpoints {
		out = append(out, ep)
	}
	return out
}

type fakeAudit struct {
	prompts []model.PromptRecord
	alerts  []model.AlertRecord
}

func (f *fakeAudit) Prompts(workspaceID string, limit int) ([]model.PromptRecord, error) {
	return f.prompts, nil
}
func (f *fakeAudit) Alerts(limit int) ([]model.AlertRecord, error) { return f.alerts, nil }

func newTestServer() (*Server, *fakeProviders, *workspace.Registry) {
	providers := newFakeProviders()
	workspaces := workspace.New("")
	s := New(providers, workspaces, &fakeAudit{}, nil, nil, "")
	return s, providers, workspaces
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_Health(t *testing.T) {
	s, _, _ := newTestServer()
	rr := doRequest(t, s.Handler(), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
}

func TestHandler_AuthMiddleware_RejectsMissingToken(t *testing.T) {
	providers := newFakeProviders()
	workspaces := workspace.New("")
	s := New(providers, workspaces, &fakeAudit{}, nil, nil, "secret-token")
	rr := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/workspaces", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rr.Code)
	}
}

func TestHandler_AuthMiddleware_AllowsHealthUnauthenticated(t *testing.T) {
	providers := newFakeProviders()
	workspaces := workspace.New("")
	s := New(providers, workspaces, &fakeAudit{}, nil, nil, "secret-token")
	rr := doRequest(t, s.Handler(), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
}

func TestProviderEndpoints_CreateGetDelete(t *testing.T) {
	s, _, _ := newTestServer()
	h := s.Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/v1/provider-endpoints/", `{"id":"ep1","name":"local","kind":"openai","base_url":"http://localhost:8000"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status: got %d, want 201: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/v1/provider-endpoints/ep1/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status: got %d, want 200", rr.Code)
	}
	var ep model.ProviderEndpoint
	if err := json.Unmarshal(rr.Body.Bytes(), &ep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ep.Name != "local" {
		t.Errorf("name: got %q, want local", ep.Name)
	}

	rr = doRequest(t, h, http.MethodDelete, "/api/v1/provider-endpoints/ep1/", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status: got %d, want 204", rr.Code)
	}
	rr = doRequest(t, h, http.MethodGet, "/api/v1/provider-endpoints/ep1/", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d, want 404", rr.Code)
	}
}

func TestWorkspaces_CreateActivateArchiveRecoverDelete(t *testing.T) {
	s, _, _ := newTestServer()
	h := s.Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/v1/workspaces/", `{"name":"scratch"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status: got %d, want 201: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodPost, "/api/v1/workspaces/scratch/activate", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("activate status: got %d, want 200: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/v1/workspaces/archive", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("archive list status: got %d, want 200", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "null" {
		t.Errorf("expected no archived workspaces yet, got %s", rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodDelete, "/api/v1/workspaces/scratch/", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected conflict deleting the active workspace's, got %d", rr.Code)
	}
}

func TestWorkspaces_MuxRulesRoundTrip(t *testing.T) {
	s, _, workspaces := newTestServer()
	h := s.Handler()
	ws := workspaces.Create("rules-ws", "")
	_ = ws

	rr := doRequest(t, h, http.MethodPut, "/api/v1/workspaces/rules-ws/muxes/", `[{"provider_endpoint_id":"ep1","model_name":"m","matcher_type":"catch_all","matcher":""}]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set mux rules status: got %d, want 200: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/v1/workspaces/rules-ws/muxes/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get mux rules status: got %d, want 200", rr.Code)
	}
	var rules []model.MuxRule
	if err := json.Unmarshal(rr.Body.Bytes(), &rules); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rules) != 1 || rules[0].ProviderEndpointID != "ep1" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestAlertsAndPrompts_Readout(t *testing.T) {
	providers := newFakeProviders()
	workspaces := workspace.New("")
	audit := &fakeAudit{
		prompts: []model.PromptRecord{{ID: "p1"}},
		alerts:  []model.AlertRecord{{ID: "a1", TriggerType: model.TriggerSecret}},
	}
	s := New(providers, workspaces, audit, nil, nil, "")
	h := s.Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/prompts", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "p1") {
		t.Fatalf("prompts: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/v1/alerts", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "a1") {
		t.Fatalf("alerts: status %d, body %s", rr.Code, rr.Body.String())
	}
}
