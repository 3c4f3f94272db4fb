package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mosberg/entomology/internal/core/observability/log"
)

const readHeaderTimeout = 5 * time.Second

type Server struct {
	addr    string
	handler http.Handler
	logger  log.Log

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewServer(addr string, backend Backend, gatherer prometheus.Gatherer, logger log.Log) *Server {
	logger = logger.Named("admin")
	return &Server{
		addr:    addr,
		handler: NewRouter(NewHandlers(backend, logger), gatherer),
		logger:  logger,
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrListenerFailed, s.addr, err)
	}
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: readHeaderTimeout}
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server stopped", log.Error(err))
		}
	}()

	s.server, s.listener, s.done = srv, ln, done
	s.logger.Info("Admin server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, which differs from the configured one for port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotRunning
	}
	err := srv.Shutdown(ctx)
	<-done
	return err
}
