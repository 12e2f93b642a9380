// Package server runs the HTTP API with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds server settings
type Config struct {
	Address string
	Handler http.Handler

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// ShutdownTimeout bounds how long in-flight requests get to finish
	ShutdownTimeout time.Duration
}

// DefaultConfig returns settings for serving handler on address. There is
// no write timeout: file downloads and the event stream are long-lived.
func DefaultConfig(address string, handler http.Handler) Config {
	return Config{
		Address:           address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// ShutdownHook runs after the server stops accepting requests
type ShutdownHook func(ctx context.Context) error

// Server is an HTTP server that stops when its context is cancelled
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *zap.Logger

	mu       sync.Mutex
	hooks    []ShutdownHook
	listener net.Listener
	ready    chan struct{}
}

// New creates a server
func New(config Config, logger *zap.Logger) (*Server, error) {
	if config.Handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		config: config,
		httpServer: &http.Server{
			Addr:              config.Address,
			Handler:           config.Handler,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			IdleTimeout:       config.IdleTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
			ErrorLog:          zap.NewStdLog(logger),
		},
		logger: logger,
		ready:  make(chan struct{}),
	}, nil
}

// RegisterHook adds a hook run during shutdown, in registration order
func (s *Server) RegisterHook(hook ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Run serves until ctx is cancelled, then shuts down gracefully. It returns
// nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("address", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down", zap.Duration("timeout", s.config.ShutdownTimeout))

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}

	s.mu.Lock()
	hooks := append([]ShutdownHook(nil), s.hooks...)
	s.mu.Unlock()

	for i, hook := range hooks {
		if hookErr := hook(ctx); hookErr != nil {
			s.logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(hookErr))
		}
	}

	s.logger.Info("shutdown complete")
	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Addr returns the listening address once Run has started listening
func (s *Server) Addr() string {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr().String()
}
