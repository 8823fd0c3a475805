package http

import (
	"context"
	"log/slog"
	"net/http"
	"parlor/internal/api"
	"parlor/internal/models"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServer exposes operational endpoints. It should not be reachable by clients.
type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAdminServer serves /metrics and /healthz. healthy may be nil.
func NewAdminServer(addr string, healthy func(ctx context.Context) error) *AdminServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if healthy != nil {
			if err := healthy(r.Context()); err != nil {
				slog.Warn("health check failed", "error", err)
				api.WriteJSON(w, http.StatusServiceUnavailable, models.APIResponse{Success: false, Message: err.Error()})
				return
			}
		}
		api.WriteJSON(w, http.StatusOK, models.APIResponse{Success: true})
	})

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           api.Recover(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *AdminServer) Start() error {
	slog.Info("admin server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
