package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/smsdesk/smsdesk/internal/config"
	"github.com/smsdesk/smsdesk/internal/httpapi"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for a profile daemon.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	addr       string
	logger     *zap.Logger
}

// NewServer binds the API handler to the configured listen address.
// Binding happens here rather than in Start so a taken port fails the
// daemon before the lifecycle begins.
func NewServer(cfg *config.Config, handler *httpapi.Handler, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.HTTP.ListenAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           handler.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		addr:     listener.Addr().String(),
		logger:   logger,
	}, nil
}

// Addr returns the bound address, useful when the config asked for
// port 0.
func (s *Server) Addr() string {
	return s.addr
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
