// Package rpcserver exposes the custody and fiduciary services over
// JSON HTTP and holds the client custody uses to reach the fiduciary.
package rpcserver

import (
	"context"
	"github.com/pkg/errors"
	"net"
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Registrar adds a set of routes to a mux.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// Server is an HTTP server for one service.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// New binds listen and routes requests to the handlers.
func New(listen string, handlers ...Registrar) (*Server, error) {
	mux := http.NewServeMux()
	for _, handler := range handlers {
		handler.Register(mux)
	}

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen on %s", listen)
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		listener: listener,
	}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", s.listener.Addr())
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Infof("Shutting down server on %s", s.listener.Addr())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
