package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/capstack/origination/common/logger"
)

const (
	readTimeout       = 15 * time.Second
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second

	// shutdownTimeout bounds how long outstanding requests get to
	// finish once the stop signal arrives.
	shutdownTimeout = 30 * time.Second
)

// Server wraps HTTP server with graceful shutdown
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
	name       string
	onShutdown []func(context.Context)
}

// New creates a new server. The read and write timeouts do not apply
// to hijacked connections, so WebSocket traffic is unaffected.
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
		log:  log,
		name: name,
	}
}

// OnShutdown registers a hook to run after the listener stops accepting
// traffic, within the shutdown grace period. Hooks run in registration
// order; use them to drain hubs and release subscriptions.
func (s *Server) OnShutdown(fn func(context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Start starts the server and blocks until it fails or a stop signal
// arrives
func (s *Server) Start() error {
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("%s starting", s.name), "addr", s.httpServer.Addr)
		serverErrors <- s.httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := s.httpServer.Shutdown(ctx)
		if err != nil {
			s.log.Error("graceful shutdown failed, closing hard", "error", err)
			err = s.httpServer.Close()
		}

		// Hooks drain whatever the listener leaves behind (hub
		// connections, redis subscriptions), so they run even after a
		// hard close.
		for _, fn := range s.onShutdown {
			fn(ctx)
		}

		if err != nil {
			return fmt.Errorf("could not stop server: %w", err)
		}

		s.log.Info("shutdown complete", "service", s.name)
	}

	return nil
}

// HealthHandler returns a simple health check handler
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}
}
