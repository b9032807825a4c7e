// Package httpserver wires the router: public health and docs, the
// gated pipeline surface under /api, and the bearer-authenticated admin
// CRUD under /admin.
package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/agentblock"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/apikey"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/circuitbreaker"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/config"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/logger"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/metrics"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/openapi"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/pipeline"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/ratelimit"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/receipt"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/replay"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/spend"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/responders"
)

// Deps carries everything the server needs.
type Deps struct {
	Config    *config.Config
	Pipeline  *pipeline.Pipeline
	Routes    *routes.Table
	Receipts  *receipt.Store
	Spend     *spend.Tracker
	Blocklist *agentblock.Blocklist
	Replay    *replay.Store
	SSRF      *routes.SSRFGuard
	Prober    *routes.Prober
	Breakers  *circuitbreaker.Manager
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Server is the HTTP front of the gateway.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	routes    *routes.Table
	receipts  *receipt.Store
	spend     *spend.Tracker
	blocklist *agentblock.Blocklist
	replay    *replay.Store
	ssrf      *routes.SSRFGuard
	prober    *routes.Prober
	breakers  *circuitbreaker.Manager
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New builds the server with its configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:       deps.Config,
			pipeline:  deps.Pipeline,
			routes:    deps.Routes,
			receipts:  deps.Receipts,
			spend:     deps.Spend,
			blocklist: deps.Blocklist,
			replay:    deps.Replay,
			ssrf:      deps.SSRF,
			prober:    deps.Prober,
			breakers:  deps.Breakers,
			metrics:   deps.Metrics,
			logger:    deps.Logger,
		},
		httpServer: &http.Server{
			Addr:         deps.Config.ListenAddr(),
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  2 * time.Minute,
			Handler:      router,
		},
	}
	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{pipeline.HeaderReceipt},
		MaxAge:         300,
	}).Handler)
	router.Use(securityHeaders)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Lightweight public endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", s.health)
		r.Get("/docs", s.docs)
		r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	})

	// The gated surface. Rate limiting applies only here so admin and
	// health traffic is never throttled.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		for _, limiter := range ratelimit.Middleware(ratelimit.DefaultConfig(), s.receipts, s.metrics) {
			r.Use(limiter)
		}
		r.HandleFunc("/api/*", s.gated)
	})

	// Admin CRUD, bearer-authenticated with the admin key.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(apikey.Middleware(s.cfg.Server.AdminKey))
		r.Route("/admin", func(r chi.Router) {
			r.Get("/routes", s.listRoutes)
			r.Post("/routes", s.addRoute)
			r.Put("/routes/{toolID}", s.replaceRoute)
			r.Delete("/routes/{toolID}", s.removeRoute)

			r.Get("/receipts", s.listReceipts)
			r.Delete("/receipts", s.clearReceipts)
			r.Get("/receipts/stats", s.receiptStats)

			r.Get("/blocklist", s.getBlocklist)
			r.Put("/blocklist", s.putBlocklist)

			r.Get("/spend/{mandateID}", s.getSpend)

			r.Get("/config", s.getConfig)
			r.Put("/config", s.putConfig)
		})
	})
}

// gated strips the /api prefix and hands the request to the pipeline.
func (s *Server) gated(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	if path == "" {
		path = "/"
	}
	s.pipeline.Handle(w, r, path)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"routes": s.routes.Snapshot().Len(),
	}
	if s.breakers != nil {
		body["breakers"] = map[string]string{
			"facilitator":    s.breakers.State(circuitbreaker.ServiceFacilitator),
			"upstream_probe": s.breakers.State(circuitbreaker.ServiceProbe),
			"anchor_rpc":     s.breakers.State(circuitbreaker.ServiceAnchor),
		}
	}
	responders.JSON(w, http.StatusOK, body)
}

func (s *Server) docs(w http.ResponseWriter, r *http.Request) {
	doc := openapi.Build(openapi.Info{
		Title:   "RequestTap Router",
		Version: "1.0.0",
		BaseURL: s.cfg.Server.PublicURL,
	}, s.routes.Snapshot().Rules())
	responders.JSON(w, http.StatusOK, doc)
}

// Start begins serving. Blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("httpserver.listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
