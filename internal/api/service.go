package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/wire-sentinel/internal/router"
	"github.com/dmdmdm-nz/wire-sentinel/internal/runtime"
)

const shutdownTimeout = 5 * time.Second

// Router is what the API reads from the event router.
type Router interface {
	Status() router.Status
	Subscribe() (<-chan runtime.Delivery[router.Outcome], func())
}

// Service is the local HTTP surface: health probes, router status,
// Prometheus metrics and a websocket stream of router outcomes.
type Service struct {
	address string
	port    int

	mu     sync.Mutex
	router Router
	server *http.Server
	closed bool
}

func NewService(host string, port int) *Service {
	return &Service{
		address: host,
		port:    port,
	}
}

func (s *Service) AttachRouter(r Router) {
	s.mu.Lock()
	s.router = r
	s.mu.Unlock()
}

func (s *Service) getRouter() Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router
}

// Start serves until ctx is cancelled. A listener failure is logged but
// does not stop address monitoring.
func (s *Service) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.address, strconv.Itoa(s.port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.server = nil
		s.mu.Unlock()
	}()

	log.Infof("Starting wire-sentinel API service at %s", addr)
	defer log.Info("Stopping wire-sentinel API service")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("API service did not shut down cleanly")
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Failed to start the API service")
		}
		<-ctx.Done()
		return nil
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Handler returns the API routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if s.getRouter() == nil {
				http.Error(w, "router not attached", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rt := s.getRouter()
		if rt == nil {
			http.Error(w, "router not attached", http.StatusServiceUnavailable)
			return
		}
		w.Header().Add("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rt.Status()); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode status: %v", err), http.StatusInternalServerError)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		rt := s.getRouter()
		if rt == nil {
			http.Error(w, "router not attached", http.StatusServiceUnavailable)
			return
		}
		StreamOutcomes(rt, w, r)
	})
	return mux
}
