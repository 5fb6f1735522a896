package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"edgemesh/pkg/cluster"
	"edgemesh/pkg/metrics"
	"edgemesh/pkg/sharding"
	"edgemesh/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeText        = "text/plain; charset=utf-8"
	defaultShutdownTimeout = time.Second * 5
	maxBodyBytes           = 8 << 20
)

type iDispatcher interface {
	Process(ctx context.Context, req cluster.Request) (cluster.Response, error)
}

type iCallbackService interface {
	Deliver(payload []byte) error
}

type iTelemetryService interface {
	Serve(ctx context.Context, write func(telemetry.Snapshot) error) error
}

type iMetricsRegistry interface {
	metrics.Collector
	WriteText(w io.Writer) error
}

// API holds the components a node exposes. Routes are mounted only for the
// components that are set, so one node may split them over several
// listeners.
type API struct {
	// Tables are the logical routing tables; index 0 holds every route, the
	// last one the final routes when there are two.
	Tables     []*sharding.Set
	Dispatcher iDispatcher
	Callbacks  iCallbackService
	Telemetry  iTelemetryService
	Metrics    iMetricsRegistry
}

// Router builds the chi router of the set components.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)
	if a.Metrics != nil {
		r.Get("/metrics", a.handleMetrics)
	}
	if len(a.Tables) > 0 {
		r.Get("/api/table", a.handleDump)
		r.Get("/api/tables", a.handleNumTables)
		r.Get("/api/tables/{id}", a.handleGetTable)
		r.Post("/api/table", a.handleConfigure)
	}
	if a.Dispatcher != nil {
		r.Post("/api/lambda", a.handleLambda)
	}
	if a.Callbacks != nil {
		r.Post("/api/callback", a.handleCallback)
	}
	if a.Telemetry != nil {
		r.Get("/api/util/stream", a.handleUtilStream)
	}
	return r
}

func (a *API) count(name string, labels map[string]string) {
	if a.Metrics != nil {
		a.Metrics.IncCounter(name, labels, 1)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeText)
	if err := a.Metrics.WriteText(w); err != nil {
		slog.Warn("Failed to write metrics response", "error", err)
	}
}

// Server represents one HTTP listener of a node.
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	cancel     context.CancelFunc
	URL        string
	addr       string
}

// NewServer creates a new server instance
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		handler: handler,
		addr:    addr,
	}
}

// Start binds the listener and serves in the background. A bind failure
// is returned here.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// streaming handlers end when this context is cancelled by Stop
	base, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	s.URL = "http://" + ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := errorReply(err)
	writeJSON(w, status, resp)
}
