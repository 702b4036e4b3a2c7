// Package main runs the loan servicing engine: REST API, Prometheus
// metrics, and the background delinquency sweep.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/studifi/finance_layer/internal/app"
	"github.com/studifi/finance_layer/internal/app/httpapi"
	"github.com/studifi/finance_layer/internal/app/metrics"
	"github.com/studifi/finance_layer/internal/app/storage"
	"github.com/studifi/finance_layer/internal/app/storage/postgres"
	"github.com/studifi/finance_layer/internal/config"
	"github.com/studifi/finance_layer/internal/middleware"
	"github.com/studifi/finance_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/finance.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address override")
	flag.Parse()

	_ = godotenv.Load() // allow .env for local runs

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("financed").WithError(err).Fatal("load configuration")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New(cfg.Logging)
	log = log.WithField("component", "financed")

	var store storage.FinanceStore
	if cfg.Database.Driver == "postgres" {
		db, err := postgres.Open(cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			log.WithError(err).Fatal("run migrations")
		}
		store = postgres.New(db)
		log.Info("using postgres store")
	} else {
		log.Info("using in-memory store")
	}

	application, err := app.New(app.Options{
		Store:              store,
		Admins:             cfg.Admins,
		DefaultAfterDays:   cfg.Finance.DefaultAfterDays,
		ReminderDays:       cfg.Finance.ReminderDays,
		MinSeasoningMonths: cfg.Finance.MinSeasoningMonths,
		SweepSchedule:      cfg.Finance.SweepSchedule,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}
	log.Info("application started")

	sink, err := httpapi.NewFileAuditSink(cfg.AuditPath)
	if err != nil {
		log.WithError(err).Fatal("open audit sink")
	}
	audit := httpapi.NewAuditLog(0, sink)

	handler := httpapi.NewHandler(application, audit)
	handler = metrics.InstrumentHandler(handler)
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
		limiter.StartCleanup(10 * time.Minute)
		handler = limiter.Handler(handler)
	}
	handler = middleware.NewCORSMiddleware([]string{"*"}).Handler(handler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("api listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application stop")
	}

	log.Info("stopped")
}
