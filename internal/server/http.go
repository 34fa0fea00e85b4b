package server

import (
	"PerpEngine/internal/observability"
	"PerpEngine/internal/projection"
	"PerpEngine/internal/query"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps holds everything the HTTP API serves from. History, Fees, Hub and
// the admin hooks are optional; their routes answer 503 when unset.
type Deps struct {
	Reader   query.Reader
	History  *query.QueryService
	Fees     *projection.FeeHistory
	Hub      *query.Hub
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	// TakeSnapshot persists a snapshot now and returns its sequence.
	TakeSnapshot func(ctx context.Context) (int64, error)
	// RebuildProjections truncates and refills the projection tables.
	RebuildProjections func(ctx context.Context) error

	Logger zerolog.Logger
}

// Server is the query and admin HTTP API.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     zerolog.Logger
}

func NewServer(addr string, deps *Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(deps),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		addr:   addr,
		logger: deps.Logger,
	}
}

// Start serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// NewRouter builds the chi router for every route.
func NewRouter(deps *Deps) chi.Router {
	h := &handlers{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	if deps.Health != nil {
		r.Get("/healthz", deps.Health.LivenessHandler)
		r.Get("/readyz", deps.Health.ReadinessHandler)
	} else {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools/{id}", h.getPool)
		r.Get("/custodies/{id}", h.getCustody)
		r.Get("/staking-pools/{type}", h.getStakingPool)
		r.Get("/stakings/{owner}/{type}", h.getStaking)
		r.Get("/fees", h.listFees)

		r.Route("/owners/{owner}", func(r chi.Router) {
			r.Get("/positions", h.listPositions)
			r.Get("/positions/history", h.listPositionHistory)
			r.Get("/balances", h.getBalances)
			r.Get("/journal", h.listJournal)
			r.Get("/fees", h.listOwnerFees)
		})

		if deps.Hub != nil {
			r.Get("/stream", deps.Hub.HandleStream)
		}

		r.Route("/admin", func(r chi.Router) {
			r.Post("/snapshot", h.takeSnapshot)
			r.Post("/rebuild-projections", h.rebuildProjections)
			r.Get("/integrity", h.verifyIntegrity)
		})
	})

	return r
}

// instrument records request count and latency per route pattern.
func (h *handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
			m.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
		h.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
