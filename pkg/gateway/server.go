// Package gateway wires the forwarding gateway: tier resolution, rate
// limiting, response caching, upstream dispatch, and the streaming relay,
// behind one HTTP surface.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rampart-ai/rampart/pkg/audit"
	"github.com/rampart-ai/rampart/pkg/auth"
	cachepkg "github.com/rampart-ai/rampart/pkg/cache"
	"github.com/rampart-ai/rampart/pkg/config"
	"github.com/rampart-ai/rampart/pkg/dispatch"
	"github.com/rampart-ai/rampart/pkg/metrics"
	"github.com/rampart-ai/rampart/pkg/ratelimit"
	"github.com/rampart-ai/rampart/pkg/registry"
)

// Server is the Rampart gateway.
type Server struct {
	cfg        *config.Config
	resolver   *auth.Resolver
	limiter    *ratelimit.Limiter
	cache      *cachepkg.Cache
	dispatcher *dispatch.Dispatcher
	auditor    *audit.Logger
	metrics    *metrics.Metrics
	mux        *http.ServeMux
	logger     *slog.Logger
}

// New creates a gateway Server wired with all dependencies. The cache and
// auditor may be nil when disabled.
func New(cfg *config.Config, reg *registry.Registry, resolver *auth.Resolver, limiter *ratelimit.Limiter, c *cachepkg.Cache, a *audit.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:        cfg,
		resolver:   resolver,
		limiter:    limiter,
		cache:      c,
		dispatcher: dispatch.New(reg, cfg.Upstream.AttemptTimeout, cfg.Upstream.Path, m),
		auditor:    a,
		metrics:    m,
		mux:        http.NewServeMux(),
		logger:     slog.Default().With("component", "gateway"),
	}
	s.mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("/v1/stream", s.handleStreamSession)
	s.mux.Handle("/metrics", m.Handler())
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rampart gateway listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// extractAPIKey pulls the client key from the Authorization header.
func extractAPIKey(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	return ""
}
