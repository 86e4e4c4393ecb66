// Package api serves the HTTP status and control endpoints.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"scanwedge/internal/health"
	"scanwedge/internal/logging"
	"scanwedge/internal/metrics"
	"scanwedge/internal/scanner"
	"scanwedge/internal/store"
)

// Controller is the part of the scan controller the API drives.
type Controller interface {
	Reset()
	Enable()
	Disable()
	Status() scanner.Status
}

// History is the scan history read by /scans.
type History interface {
	RecentScans(ctx context.Context, limit int) ([]store.Scan, error)
	ScanByID(ctx context.Context, id int64) (*store.Scan, error)
	ScanBySession(ctx context.Context, sessionID string) (*store.Scan, error)
	CountByCode(ctx context.Context, limit int) ([]store.CodeCount, error)
}

// Server holds the handler dependencies.
type Server struct {
	ctrl     Controller
	history  History
	registry *metrics.Registry
	health   *health.Checker
	log      *logging.Logger

	srv *http.Server
}

// NewServer creates a server. history may be nil when storage is
// disabled; /scans then answers 503.
func NewServer(ctrl Controller, history History, registry *metrics.Registry, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	if registry == nil {
		registry = metrics.Default()
	}
	return &Server{
		ctrl:     ctrl,
		history:  history,
		registry: registry,
		log:      logger.WithComponent("api"),
	}
}

// SetHealth makes /health run the checker's component checks.
func (s *Server) SetHealth(c *health.Checker) {
	s.health = c
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/reset", s.handleReset).Methods("POST")
	r.HandleFunc("/enable", s.handleEnable).Methods("POST")
	r.HandleFunc("/disable", s.handleDisable).Methods("POST")
	r.HandleFunc("/scans", s.handleScans).Methods("GET")
	r.HandleFunc("/scans/top", s.handleTopCodes).Methods("GET")
	r.HandleFunc("/scans/{id:[0-9]+}", s.handleScan).Methods("GET")
	r.HandleFunc("/sessions/{session}", s.handleSession).Methods("GET")
	r.Handle("/metrics", s.registry.HTTPHandler()).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start listens on addr and serves in the background. The bound
// address is returned so ":0" can be used.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", "error", err)
		}
	}()

	s.log.Info("http api listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestID tags each request with an ID, echoed in X-Request-ID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = s.log.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := logging.ContextWithRequestID(r.Context(), id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.log.WithContext(ctx).Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}
