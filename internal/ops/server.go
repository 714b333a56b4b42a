// Package ops serves the operational HTTP surface: Prometheus metrics,
// a health probe fed by the cluster monitor, and runtime stats.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/blacklist"
	"github.com/prebidwatch/scout/internal/cache"
	"github.com/prebidwatch/scout/internal/clusterhealth"
	"github.com/prebidwatch/scout/internal/metrics"
)

// Server is the ops HTTP listener.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New wires the ops routes. Monitor, blacklist and cache may be nil;
// their sections are simply omitted.
func New(port int, monitor *clusterhealth.Monitor, bl *blacklist.Blacklist, contentCache *cache.Cache, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", healthzHandler(monitor))
	r.Get("/stats", statsHandler(bl, contentCache))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func healthzHandler(monitor *clusterhealth.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"healthy": true}
		code := http.StatusOK
		if monitor != nil {
			status := monitor.GetHealthStatus()
			body["healthy"] = status.Healthy
			body["errorCount"] = status.ErrorCount
			if !status.Healthy {
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, body)
	}
}

func statsHandler(bl *blacklist.Blacklist, contentCache *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{}
		if bl != nil {
			stats := bl.GetStats()
			body["blacklist"] = map[string]any{
				"blacklistedCount": stats.BlacklistedCount,
				"crashingUrls":     len(stats.CrashingURLs),
			}
		}
		if contentCache != nil {
			stats := contentCache.GetStats()
			body["cache"] = map[string]any{
				"entries": stats.Entries,
				"size":    stats.Size,
				"hitRate": stats.HitRate,
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
