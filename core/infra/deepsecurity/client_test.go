package deepsecurity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cordum/ipspatch/core/infra/config"
	"github.com/cordum/ipspatch/core/ips"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

type fakeManager struct {
	mu       sync.Mutex
	requests []recorded
	handle   func(w http.ResponseWriter, r *http.Request, body map[string]any)
}

func (f *fakeManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.Path, body: body})
	f.mu.Unlock()
	if r.Header.Get("api-secret-key") != "key" || r.Header.Get("api-version") != "v1" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	f.handle(w, r, body)
}

func newTestClient(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, body map[string]any)) (*Client, *fakeManager) {
	t.Helper()
	fm := &fakeManager{handle: handle}
	srv := httptest.NewServer(fm)
	t.Cleanup(srv.Close)
	c := New(Options{BaseURL: srv.URL + "/api/", APIKey: "key", PageSize: 2})
	return c, fm
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func criteria(body map[string]any) map[string]any {
	list, _ := body["searchCriteria"].([]any)
	if len(list) == 0 {
		return nil
	}
	c, _ := list[0].(map[string]any)
	return c
}

func TestRulesPaginates(t *testing.T) {
	pages := map[float64][]map[string]any{
		0: {{"ID": 1, "name": "a", "CVE": []string{"CVE-1"}}, {"ID": 2, "name": "b"}},
		2: {{"ID": 5, "name": "c", "CVE": []string{"CVE-1", "CVE-2"}}},
	}
	c, fm := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if r.URL.Path != "/api/intrusionpreventionrules/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		after, _ := criteria(body)["idValue"].(float64)
		writeJSON(w, map[string]any{"intrusionPreventionRules": pages[after]})
	})

	rules, err := c.Rules(context.Background())
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	if rules[2].ID != 5 || len(rules[2].CVEs) != 2 {
		t.Fatalf("unexpected rule: %+v", rules[2])
	}
	if len(fm.requests) != 2 {
		t.Fatalf("expected 2 page requests, got %d", len(fm.requests))
	}
}

func TestEndpointByHostname(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if criteria(body)["stringValue"] == "web-01" {
			writeJSON(w, map[string]any{"computers": []map[string]any{{"ID": 7, "hostName": "web-01", "policyID": 3}}})
			return
		}
		writeJSON(w, map[string]any{"computers": []any{}})
	})

	ep, err := c.EndpointByHostname(context.Background(), "web-01")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if ep.ID != 7 || ep.PolicyID == nil || *ep.PolicyID != 3 {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}

	_, err = c.EndpointByHostname(context.Background(), "ghost")
	if !errors.Is(err, ips.ErrEndpointNotFound) {
		t.Fatalf("expected ErrEndpointNotFound, got %v", err)
	}
}

func TestEndpointWithoutPolicy(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, map[string]any{"computers": []map[string]any{{"ID": 8, "hostName": "bare"}}})
	})
	ep, err := c.EndpointByHostname(context.Background(), "bare")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if ep.PolicyID != nil {
		t.Fatalf("expected nil policy id")
	}
}

func TestPolicyLookups(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		crit := criteria(body)
		switch {
		case crit["fieldName"] == "name" && crit["stringValue"] == "Web":
			writeJSON(w, map[string]any{"policies": []map[string]any{{"ID": 3, "name": "Web", "intrusionPrevention": map[string]any{"ruleIDs": []int{10, 11}}}}})
		case crit["fieldName"] == "ID" && crit["numericValue"] == float64(4):
			writeJSON(w, map[string]any{"policies": []map[string]any{{"ID": 4, "name": "Base"}}})
		default:
			writeJSON(w, map[string]any{"policies": []any{}})
		}
	})

	p, err := c.PolicyByName(context.Background(), "Web")
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if p.ID != 3 || len(p.RuleIDs) != 2 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	p, err = c.PolicyByID(context.Background(), 4)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if p.Name != "Base" || len(p.RuleIDs) != 0 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if _, err := c.PolicyByName(context.Background(), "Missing"); !errors.Is(err, ips.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestMutations(t *testing.T) {
	c, fm := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/policies":
			writeJSON(w, map[string]any{"ID": 42, "name": body["name"]})
		case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/assignments/11"):
			http.Error(w, "not assigned", http.StatusNotFound)
		default:
			writeJSON(w, map[string]any{})
		}
	})
	c.policyParentID = 1
	ctx := context.Background()

	id, err := c.CreatePolicy(ctx, "Patched")
	if err != nil || id != 42 {
		t.Fatalf("create: id=%d err=%v", id, err)
	}
	if err := c.AddRules(ctx, 42, []int{10, 11}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.RemoveRules(ctx, 42, []int{10, 11}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.SetEndpointPolicy(ctx, 7, 42); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	want := []struct{ method, path string }{
		{http.MethodPost, "/api/policies"},
		{http.MethodPost, "/api/policies/42/intrusionprevention/assignments"},
		{http.MethodDelete, "/api/policies/42/intrusionprevention/assignments/10"},
		{http.MethodDelete, "/api/policies/42/intrusionprevention/assignments/11"},
		{http.MethodPost, "/api/computers/7"},
	}
	if len(fm.requests) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(fm.requests))
	}
	for i, w := range want {
		if fm.requests[i].method != w.method || fm.requests[i].path != w.path {
			t.Fatalf("request %d: got %s %s want %s %s", i, fm.requests[i].method, fm.requests[i].path, w.method, w.path)
		}
	}
	if fm.requests[0].body["parentID"] != float64(1) {
		t.Fatalf("expected parentID on create, got %#v", fm.requests[0].body)
	}
	if ids, _ := fm.requests[1].body["ruleIDs"].([]any); len(ids) != 2 {
		t.Fatalf("expected full rule set on add, got %#v", fm.requests[1].body)
	}
	if fm.requests[4].body["policyID"] != float64(42) {
		t.Fatalf("expected policyID on computer update")
	}
}

func TestStatusErrorPropagates(t *testing.T) {
	fm := &fakeManager{handle: func(w http.ResponseWriter, r *http.Request, body map[string]any) {}}
	srv := httptest.NewServer(fm)
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL, APIKey: "wrong"})

	_, err := c.Rules(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{APIURL: "https://dsm.example/api", APIKey: "k", APIVersion: "v1"}
	settings := &config.Settings{}
	settings.Catalog.PageSize = 250
	settings.Policy.ParentID = 3
	settings.Policy.Description = "patched"

	c := FromConfig(cfg, settings)
	if c.BaseURL != cfg.APIURL || c.APIKey != "k" {
		t.Fatalf("unexpected client: %+v", c)
	}
	if c.pageSize != 250 || c.policyParentID != 3 || c.policyDescription != "patched" {
		t.Fatalf("settings not applied: %+v", c)
	}
	if c.HTTPClient.Timeout != settings.Timeout() {
		t.Fatalf("unexpected timeout %v", c.HTTPClient.Timeout)
	}
}
