// Package gatewayapp assembles the full gateway: route table, payment
// coordinator, pipeline, admin surface, and their lifecycles.
package gatewayapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/agentblock"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/anchor"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/circuitbreaker"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/config"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/httpserver"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/httputil"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/lifecycle"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/logger"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/mandate"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/metrics"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/payment"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/pipeline"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/proxy"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/receipt"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/replay"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/spend"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/x402"

	"github.com/ethereum/go-ethereum/ethclient"
)

// App holds the assembled gateway.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Routes   *routes.Table
	Receipts *receipt.Store
	Server   *httpserver.Server

	resources *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	facilitator payment.Facilitator
	registerer  prometheus.Registerer
}

// WithFacilitator injects a custom facilitator client, used by tests to
// stub the payment rail.
func WithFacilitator(f payment.Facilitator) Option {
	return func(o *options) { o.facilitator = f }
}

// WithRegisterer overrides the Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New assembles the gateway from config.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gatewayapp: config required")
	}

	optState := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "requesttap-router",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:    cfg,
		Logger:    appLogger,
		resources: lifecycle.NewManager(),
	}

	// Route table, loaded from disk. A missing file starts empty.
	rules, err := routes.LoadFile(cfg.Routes.File)
	if err != nil {
		return nil, fmt.Errorf("gatewayapp: load routes: %w", err)
	}
	table, err := routes.New(rules)
	if err != nil {
		return nil, fmt.Errorf("gatewayapp: compile routes: %w", err)
	}
	app.Routes = table

	metricsCollector := metrics.New(optState.registerer)
	metricsCollector.RoutesRegistered.Set(float64(table.Snapshot().Len()))

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())

	// Facilitator client, with per-call bearer tokens when a key pair is
	// configured. The real client runs behind the facilitator breaker.
	facilitator := optState.facilitator
	if facilitator == nil {
		var tokens x402.TokenSource
		if cfg.Payment.FacilitatorKeyID != "" {
			minter, err := payment.NewTokenMinter(cfg.Payment.FacilitatorKeyID, cfg.Payment.FacilitatorKeySecret)
			if err != nil {
				return nil, fmt.Errorf("gatewayapp: facilitator auth: %w", err)
			}
			tokens = minter
		}
		client := x402.NewFacilitatorClient(cfg.Payment.FacilitatorURL, httputil.NewClient(30*time.Second), tokens)
		facilitator = payment.NewBreakerFacilitator(client, breakers)
	}

	coordinator, err := payment.NewCoordinator(facilitator, cfg.Payment.Network, cfg.Payment.PayToAddress, cfg.Server.PublicURL+"/api", appLogger)
	if err != nil {
		return nil, fmt.Errorf("gatewayapp: payment coordinator: %w", err)
	}
	table.Subscribe(coordinator)

	replayStore := replay.NewStore(cfg.Replay.TTL.Duration, appLogger)
	app.resources.RegisterFunc("replay-store", func() error {
		replayStore.Stop()
		return nil
	})

	tracker := spend.NewTracker()
	receipts := receipt.NewStore(10000)
	app.Receipts = receipts

	var blocked []string
	if cfg.Routes.BlocklistFile != "" {
		blocked, err = agentblock.LoadFile(cfg.Routes.BlocklistFile)
		if err != nil {
			return nil, fmt.Errorf("gatewayapp: load blocklist: %w", err)
		}
	}
	blocklist := agentblock.New(blocked)

	var anchorWriter *anchor.Writer
	if cfg.Anchor.Enabled {
		client, err := ethclient.Dial(cfg.Anchor.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("gatewayapp: anchor rpc: %w", err)
		}
		anchorWriter, err = anchor.NewWriter(anchor.NewBreakerClient(client, breakers), cfg.Anchor.PrivateKeyHex, cfg.Anchor.ChainID, appLogger)
		if err != nil {
			return nil, fmt.Errorf("gatewayapp: anchor writer: %w", err)
		}
		anchorWriter.Start()
		app.resources.RegisterFunc("anchor-writer", func() error {
			anchorWriter.Stop()
			client.Close()
			return nil
		})
	}

	pipe := &pipeline.Pipeline{
		APIKey:    cfg.Server.APIKey,
		Blocklist: blocklist,
		Routes:    table,
		Replay:    replayStore,
		Mandates:  mandate.NewVerifier(tracker),
		Payments:  coordinator,
		Proxy:     proxy.NewForwarder(httputil.NewClient(0)),
		Spend:     tracker,
		Receipts:  receipts,
		Metrics:   metricsCollector,
	}
	if anchorWriter != nil {
		pipe.Anchors = anchorWriter
	}

	app.Server = httpserver.New(httpserver.Deps{
		Config:    cfg,
		Pipeline:  pipe,
		Routes:    table,
		Receipts:  receipts,
		Spend:     tracker,
		Blocklist: blocklist,
		Replay:    replayStore,
		SSRF:      routes.NewSSRFGuard(),
		Prober:    newProber(breakers),
		Breakers:  breakers,
		Metrics:   metricsCollector,
		Logger:    appLogger,
	})

	return app, nil
}

func newProber(breakers *circuitbreaker.Manager) *routes.Prober {
	p := routes.NewProber(httputil.NewClient(3 * time.Second))
	p.Breakers = breakers
	return p
}

// Run serves until ctx is cancelled, then drains and releases resources.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.Start()
	}()

	select {
	case err := <-errCh:
		a.resources.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("app.shutdown_failed")
	}
	return a.resources.Close()
}
