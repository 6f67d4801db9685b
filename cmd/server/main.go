package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/aggregator"
	"github.com/kjannette/marketdash-backend/internal/alerts"
	"github.com/kjannette/marketdash-backend/internal/api"
	"github.com/kjannette/marketdash-backend/internal/cache"
	"github.com/kjannette/marketdash-backend/internal/chat"
	"github.com/kjannette/marketdash-backend/internal/config"
	"github.com/kjannette/marketdash-backend/internal/db"
	"github.com/kjannette/marketdash-backend/internal/external"
	"github.com/kjannette/marketdash-backend/internal/logger"
	"github.com/kjannette/marketdash-backend/internal/marketsync"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/notifications"
	"github.com/kjannette/marketdash-backend/internal/portfolio"
	"github.com/kjannette/marketdash-backend/internal/repository"
	"github.com/kjannette/marketdash-backend/internal/repository/sqlite"
	"github.com/kjannette/marketdash-backend/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║       MarketDash Quotes API v1.0     ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	if err := cfg.Validate(log); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	cfg.Print(log)

	// Database
	stores, closeDB, err := openStores(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database unavailable")
	}
	defer closeDB()

	// Providers
	quotes, search, news := buildProviders(cfg, log)

	syncJob := marketsync.NewJob(stores.History, stores.Rankings, stores.SyncLogs, log)
	notify := notifications.NewSender(cfg.WhatsAppWebhookURL, cfg.AppName, log)
	monitor := alerts.NewMonitor(stores.Alerts, quotes, notify, log)
	valuer := portfolio.NewService(stores.Portfolio, quotes, log)
	relay := chat.NewRelay(cfg.ChatWebhookURL, log)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. API server
	srv := api.NewServer(api.Config{
		Port:       cfg.Port,
		APIKey:     cfg.APIKey,
		CORSOrigin: cfg.CORSAllowOrigin,
		DBDriver:   stores.Driver,
		Providers: map[string]bool{
			"brapi":              cfg.BrapiToken != "",
			"polygon":            cfg.PolygonAPIKey != "",
			"alphavantage":       cfg.AlphaVantageAPIKey != "",
			"news":               cfg.NewsAPIKey != "",
			"aggregator_webhook": cfg.AggregatorWebhookURL != "",
			"chat":               relay.Enabled(),
			"whatsapp":           notify.Enabled(),
		},
	}, api.Deps{
		Quotes:    quotes,
		Search:    search,
		News:      news,
		Sync:      syncJob,
		Rankings:  stores.Rankings,
		Chat:      relay,
		Alerts:    monitor,
		Portfolio: valuer,
		SyncLogs:  stores.SyncLogs,
		Snapshots: stores.History,
		Ping:      stores.Ping,
	}, log)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("API server error")
		}
	}()

	// 2. Scheduler
	sched := scheduler.New(log)
	if cfg.SyncSchedule != "" {
		job := scheduler.NewSyncPullJob(quotes, syncJob, cfg.SyncSymbols, log)
		if err := sched.AddJob(cfg.SyncSchedule, job); err != nil {
			log.Fatal().Err(err).Msg("invalid SYNC_SCHEDULE")
		}
	}
	if cfg.AlertSchedule != "" {
		if err := sched.AddJob(cfg.AlertSchedule, scheduler.NewAlertJob(monitor)); err != nil {
			log.Fatal().Err(err).Msg("invalid ALERT_SCHEDULE")
		}
	}
	sched.Start()

	log.Info().Msg("all services started")

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API shutdown error")
	}
	log.Info().Msg("shutdown complete")
}

func openStores(cfg *config.Config, log zerolog.Logger) (repository.Stores, func(), error) {
	switch cfg.DBDriver {
	case "sqlite":
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return repository.Stores{}, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite database opened")
		return sqlite.NewStores(conn), func() { conn.Close() }, nil
	default:
		pool, err := db.Connect(cfg.DSN())
		if err != nil {
			return repository.Stores{}, nil, err
		}
		if err := db.TestConnection(pool, log); err != nil {
			pool.Close()
			return repository.Stores{}, nil, err
		}
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(migrateCtx, pool); err != nil {
			pool.Close()
			return repository.Stores{}, nil, err
		}
		return repository.NewPostgresStores(pool), func() {
			pool.Close()
			log.Info().Msg("database pool closed")
		}, nil
	}
}

func buildProviders(cfg *config.Config, log zerolog.Logger) (*aggregator.Service, *external.BrapiClient, *external.NewsClient) {
	table, err := external.LoadFallbackTable(cfg.FallbackQuotesFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.FallbackQuotesFile).Msg("fallback quote table")
	}

	brapi := external.NewBrapiClient(cfg.BrapiToken, external.ClientOptions{BaseURL: cfg.BrapiBaseURL}, log)
	polygon := external.NewPolygonClient(cfg.PolygonAPIKey, external.ClientOptions{BaseURL: cfg.PolygonBaseURL}, log)
	alpha := external.NewAlphaVantageClient(cfg.AlphaVantageAPIKey, table.GlobalBasket,
		external.ClientOptions{BaseURL: cfg.AlphaVantageBaseURL}, log)
	webhook := external.NewAggregatorWebhook(cfg.AggregatorWebhookURL, external.ClientOptions{}, log)
	news := external.NewNewsClient(cfg.NewsAPIKey, external.ClientOptions{BaseURL: cfg.NewsBaseURL}, log)

	us := external.NewChain("us", log, polygon, external.NewStaticQuotes(table, log))
	global := external.NewMonthlyEnricher(external.NewChain("global", log, webhook, alpha), alpha, log)

	svc := aggregator.NewService(aggregator.Options{
		BR:           brapi,
		US:           us,
		Global:       global,
		GlobalBasket: table.GlobalBasket,
		BRHistory:    brapi,
		USHistory:    polygon,
		Quotes:       cache.New[[]models.Quote](cfg.CacheTTL, nil),
		Series:       cache.New[[]models.HistoryPoint](cfg.CacheTTL, nil),
	}, log)
	return svc, brapi, news
}
