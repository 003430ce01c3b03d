package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordum/ipspatch/core/invoke"
	"github.com/cordum/ipspatch/core/ips"
	"github.com/cordum/ipspatch/core/ips/ipstest"
)

type recordedRequest struct {
	method, route, status string
}

type fakeHTTPMetrics struct {
	requests []recordedRequest
}

func (f *fakeHTTPMetrics) ObserveRequest(method, route, status string, _ float64) {
	f.requests = append(f.requests, recordedRequest{method, route, status})
}

func newServer(t *testing.T) (*Server, *ipstest.Backend, *fakeHTTPMetrics) {
	t.Helper()
	backend := ipstest.New().
		AddRule(1008, "CVE-2021-44228").
		AddPolicy(1, "web").
		AddEndpoint(7, "web-01", 1)
	m := &fakeHTTPMetrics{}
	return NewServer(Options{Invoker: invoke.New(backend, nil), Metrics: m}), backend, m
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestInvokeOutcome(t *testing.T) {
	s, backend, m := newServer(t)

	rec := post(t, s, `{"hostname":"web-01","cve":"CVE-2021-44228"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Invocation-ID"))

	var out ips.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, ips.Encode(200, "Policy changes were completed successfully"), out)
	assert.Len(t, backend.Mutations("AddRules"), 1)

	require.Len(t, m.requests, 1)
	assert.Equal(t, recordedRequest{"POST", "/v1/invoke", "200"}, m.requests[0])
}

func TestInvokeUnmappedCVE(t *testing.T) {
	s, backend, _ := newServer(t)

	rec := post(t, s, `{"hostname":"web-01","cve":"CVE-1999-0001"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var out ips.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Cannot find IPS rule(s) for CVE-1999-0001", out.Body)
	assert.Empty(t, backend.Calls)
}

func TestInvokeFatal(t *testing.T) {
	s, _, _ := newServer(t)

	rec := post(t, s, `{"hostname":"web-01","cve":"CVE-2021-44228","enable_rules":"yes"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var res invoke.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Nil(t, res.Outcome)
	assert.Equal(t, "invalid_selector", res.Reason)
}

func TestInvokeMethodNotAllowed(t *testing.T) {
	s, _, _ := newServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/invoke", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	ready := true
	s := NewServer(Options{Invoker: invoke.New(ipstest.New(), nil), Ready: func() bool { return ready }})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	ready = false
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
