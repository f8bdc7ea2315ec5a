// Package api serves the run ledger and composite previews over HTTP,
// alongside the Prometheus metrics of the process.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/smosaic/internal/log"
	"github.com/lox/smosaic/internal/store"
)

type Server struct {
	store *store.Store
	fs    billy.Filesystem
	addr  string
}

// NewServer serves the ledger in st. Quicklooks recorded in the ledger are
// read from fs.
func NewServer(st *store.Store, fs billy.Filesystem, addr string) *Server {
	return &Server{store: st, fs: fs, addr: addr}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(logRequests)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/runs", s.handleAPIRuns).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}", s.handleAPIRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/quicklook/{scene}", s.handleQuicklook).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugw("api: request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infow("api: listening", "addr", s.addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return nil
}
