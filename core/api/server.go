// Package api serves direct invocations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/infra/metrics"
	"github.com/cordum/ipspatch/core/invoke"
)

const (
	component   = "api"
	maxBodySize = 1 << 20
)

// Server routes invoke, health and metrics requests.
type Server struct {
	router  *mux.Router
	server  *http.Server
	invoker *invoke.Invoker
	metrics metrics.HTTPMetrics
	ready   func() bool
}

// Options configures a Server. Ready, when set, backs /healthz.
type Options struct {
	Invoker *invoke.Invoker
	Metrics metrics.HTTPMetrics
	Ready   func() bool
}

func NewServer(opts Options) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		invoker: opts.Invoker,
		metrics: opts.Metrics,
		ready:   opts.Ready,
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.observe)
	s.router.HandleFunc("/v1/invoke", s.handleInvoke).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "ipspatch-api")
}

// Start listens on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Info(component, "listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleInvoke answers with the Outcome itself and its status code, or 500
// with the invocation result when the invocation is fatal.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}
	res := s.invoker.Event(r.Context(), body, "http")
	w.Header().Set("X-Invocation-ID", res.InvocationID)
	if res.Fatal() {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, res.Outcome.StatusCode, res.Outcome)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
