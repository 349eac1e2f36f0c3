package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

// Config controls the metrics/health HTTP listener.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig listens on localhost only.
func DefaultConfig() Config {
	return Config{Enabled: false, Addr: "127.0.0.1:9464"}
}

// HealthFunc reports the platform connection state.
type HealthFunc func() channels.HealthStatus

// Server serves /healthz and /metrics.
type Server struct {
	cfg     Config
	metrics *Metrics
	health  HealthFunc
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer creates a Server.
func NewServer(cfg Config, m *Metrics, health HealthFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		metrics: m,
		health:  health,
		logger:  logger.With("component", "metrics"),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	return r
}

// Start listens in the background until ctx is done or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("metrics listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status        string    `json:"status"`
	Connected     bool      `json:"connected"`
	Guilds        int       `json:"guilds"`
	ErrorCount    int       `json:"error_count"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if s.health != nil {
		h := s.health()
		resp.Connected = h.Connected
		resp.Guilds = h.Guilds
		resp.ErrorCount = h.ErrorCount
		resp.LastMessageAt = h.LastMessageAt
		if !h.Connected {
			resp.Status = "disconnected"
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
