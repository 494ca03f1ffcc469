package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/api"
)

// Server manages the HTTP server lifecycle for an instance daemon.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer creates an HTTP server bound to the configured listen address.
// The listener is opened here so a busy port fails startup.
func NewServer(p Params, logger *zap.Logger, services *api.Services) (*Server, error) {
	router := mux.NewRouter()
	services.Register(router)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "apikey"},
		MaxAge:         300,
	})

	listener, err := net.Listen("tcp", p.Config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", p.Config.ListenAddr, err)
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           c.Handler(router),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
