// Package main is the entry point for the CALC DCA execution engine.
//
// The engine keeps user vaults on their swap cadence: watchers fire ready
// triggers, the execution pipeline runs the swaps against the order-book
// venue, and the HTTP API exposes the lifecycle operations and the per-vault
// audit trail.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/calculated-finance/calc-go/internal/config"
	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/events"
	"github.com/calculated-finance/calc-go/internal/modules/dcaplus"
	"github.com/calculated-finance/calc-go/internal/modules/execution"
	"github.com/calculated-finance/calc-go/internal/modules/fees"
	"github.com/calculated-finance/calc-go/internal/modules/pairs"
	pairshandlers "github.com/calculated-finance/calc-go/internal/modules/pairs/handlers"
	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	triggershandlers "github.com/calculated-finance/calc-go/internal/modules/triggers/handlers"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
	vaultshandlers "github.com/calculated-finance/calc-go/internal/modules/vaults/handlers"
	"github.com/calculated-finance/calc-go/internal/scheduler"
	"github.com/calculated-finance/calc-go/internal/server"
	"github.com/calculated-finance/calc-go/pkg/logger"

	oracleclient "github.com/calculated-finance/calc-go/internal/clients/oracle"
	routerclient "github.com/calculated-finance/calc-go/internal/clients/router"
	venueclient "github.com/calculated-finance/calc-go/internal/clients/venue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.Pretty})
	logger.SetGlobalLogger(log)

	db, err := database.New(filepath.Join(cfg.DataDir, "engine.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	executor := database.NewExecutor(db)

	// Clients
	venue := venueclient.NewClient(cfg.VenueBaseURL, log)
	oracle := oracleclient.NewClient(cfg.OracleBaseURL, log)
	router := routerclient.NewClient(cfg.VenueBaseURL, log)

	var stream *venueclient.TickerStream
	if cfg.VenueWSURL != "" {
		stream = venueclient.NewTickerStream(cfg.VenueWSURL, log)
		stream.Start()
		defer stream.Stop()
	}

	// Repositories
	conn := db.Conn()
	vaultRepo := vaults.NewRepository(conn, log)
	fixRepo := vaults.NewDataFixRepository(conn, log)
	pairRepo := pairs.NewRepository(conn, log)
	triggerRepo := triggers.NewRepository(conn, log)
	eventRepo := events.NewRepository(conn, log)
	cacheRepo := execution.NewSwapCacheRepository(conn, log)
	queueRepo := execution.NewAutomationQueueRepository(conn, log)
	customFeeRepo := fees.NewCustomFeeRepository(conn, log)

	feeParams := fees.Params{
		DefaultSwapFeeRate:       cfg.DefaultSwapFeeRate,
		WeightedScaleSwapFeeRate: cfg.WeightedScaleSwapFeeRate,
		AutomationFeeRate:        cfg.AutomationFeeRate,
		PerformanceFeeRate:       cfg.PerformanceFeeRate,
		Collectors:               cfg.FeeCollectors,
	}

	// Services
	triggerService := triggers.NewService(triggerRepo, venue, venue, log)
	dcaplusService := dcaplus.NewService(oracle, venue, log)
	vaultService := vaults.NewService(
		vaultRepo, fixRepo, pairRepo, triggerService, eventRepo, venue,
		executor, cfg.Paused, log,
	)
	executionService := execution.NewService(
		vaultRepo, triggerService, eventRepo, cacheRepo, queueRepo,
		customFeeRepo, feeParams, dcaplusService, venue, venue, router,
		executor, cfg.Paused, venueclient.IsSlippageError, log,
	)

	// Background watchers
	jobs := scheduler.New(log)
	if err := jobs.AddJob(cfg.TimeWatcherSpec, scheduler.NewTimeTriggerJob(triggerRepo, executionService, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register time watcher")
	}

	var priceSource scheduler.PriceSource
	if stream != nil {
		priceSource = stream
	}
	if err := jobs.AddJob(cfg.PriceWatcherSpec, scheduler.NewPriceTriggerJob(pairRepo, triggerRepo, priceSource, venue, executionService, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register price watcher")
	}
	jobs.Start()
	defer jobs.Stop()

	// HTTP API
	srv := server.New(server.Config{
		Port:            cfg.Port,
		Log:             log,
		VaultHandlers:   vaultshandlers.NewVaultHandlers(vaultService, eventRepo, fixRepo, log),
		TriggerHandlers: triggershandlers.NewTriggerHandlers(executionService, triggerRepo, log),
		AdminHandlers:   pairshandlers.NewAdminHandlers(pairRepo, customFeeRepo, log),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}
