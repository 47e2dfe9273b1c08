package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shiftrelay/api/handlers"
	"shiftrelay/config"
	"shiftrelay/core/handover"
	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

type ServerDeps struct {
	Engine    *handover.Engine
	Reporter  *handover.Reporter
	Incidents store.IncidentsStore
	DB        *store.DB
}

type Server struct {
	cfg      *config.AppConfig
	logger   *utils.Logger
	engine   *handover.Engine
	reporter *handover.Reporter
	deps     ServerDeps

	httpServer *http.Server
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		engine:   deps.Engine,
		reporter: deps.Reporter,
		deps:     deps,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	hh := handlers.NewHandoverHandler(s.engine, s.deps.Incidents, s.logger)
	rh := handlers.NewReportsHandler(s.reporter, s.logger)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		apiRouter.Route("/incidents", func(ir chi.Router) {
			ir.Post("/", hh.CreateIncident)
			ir.Get("/{id:[0-9]+}", hh.GetIncident)
		})
		apiRouter.Route("/handover", func(hr chi.Router) {
			hr.Post("/{id:[0-9]+}/initiate", hh.Initiate)
			hr.Post("/{id:[0-9]+}/accept", hh.Accept)
			hr.Post("/{id:[0-9]+}/reject", hh.Reject)
			hr.Get("/{id:[0-9]+}/history", hh.History)
			hr.Get("/pending", hh.ListPending)
			hr.Get("/badge", hh.BadgeCount)
			hr.Get("/stats", hh.Stats)
			hr.Post("/bulk-action", hh.BulkAction)
		})
		apiRouter.Route("/reports", func(rr chi.Router) {
			rr.Get("/efficiency", rh.Efficiency)
			rr.Get("/engineers/{name}", rh.EngineerSummary)
			rr.Get("/export", rh.Export)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Infof("http: listening on %s", s.cfg.ListenAddr)
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
