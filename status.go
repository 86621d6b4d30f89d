package evacam

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatusServer exposes the operational surface over HTTP: liveness, a JSON
// status snapshot, the preset script catalog, and Prometheus metrics. It is
// read-only; motion is never commanded through it.
type StatusServer struct {
	srv *http.Server
	log *slog.Logger
}

// NewStatusServer builds the server on the given listen address.
func NewStatusServer(addr string, sc *SessionController, metrics *Metrics, log *slog.Logger) *StatusServer {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, sc.Status(), log)
	})
	r.Get("/scripts", func(w http.ResponseWriter, _ *http.Request) {
		type entry struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Steps       int    `json:"steps"`
		}
		catalog := Scripts()
		out := make([]entry, 0, len(catalog))
		for _, s := range catalog {
			out = append(out, entry{Name: s.Name, Description: s.Description, Steps: len(s.Steps)})
		}
		writeJSON(w, out, log)
	})
	r.Handle("/metrics", metrics.Handler())

	return &StatusServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves until Shutdown. It blocks; run it in its own goroutine.
func (s *StatusServer) Start() error {
	s.log.Info("status server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("status encode failed", "error", err)
	}
}
