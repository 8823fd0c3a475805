package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// APIServer serves the party routes to clients and to the actors themselves.
type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(handler http.Handler, addr string) *APIServer {
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *APIServer) Start() error {
	slog.Info("api server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
