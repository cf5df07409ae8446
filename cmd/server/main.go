package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/broadcast"
	"github.com/mamadbah2/stoneweigh/internal/config"
	"github.com/mamadbah2/stoneweigh/internal/repository"
	"github.com/mamadbah2/stoneweigh/internal/repository/memory"
	"github.com/mamadbah2/stoneweigh/internal/repository/mongodb"
	"github.com/mamadbah2/stoneweigh/internal/repository/sheets"
	"github.com/mamadbah2/stoneweigh/internal/scheduler"
	"github.com/mamadbah2/stoneweigh/internal/server/handlers"
	"github.com/mamadbah2/stoneweigh/internal/server/router"
	anprsvc "github.com/mamadbah2/stoneweigh/internal/service/anpr"
	"github.com/mamadbah2/stoneweigh/internal/service/submission"
	"github.com/mamadbah2/stoneweigh/internal/service/weighing"
	"github.com/mamadbah2/stoneweigh/internal/source"
	"github.com/mamadbah2/stoneweigh/internal/stability"
	anprclient "github.com/mamadbah2/stoneweigh/pkg/clients/anpr"
	"github.com/mamadbah2/stoneweigh/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Server.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store submission.Store
		tares weighing.TareProvider
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMongo:
		mongoRepo, err := mongodb.NewMongoDBRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
		if err != nil {
			baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
		}
		defer func() {
			if err := mongoRepo.Close(context.Background()); err != nil {
				baseLogger.Error("failed to close mongodb connection", zap.Error(err))
			}
		}()
		store, tares = mongoRepo, mongoRepo
	default:
		baseLogger.Warn("using in-memory transaction store, tickets are lost on restart")
		store = memory.NewTransactionStore(repository.FirstTicketNumber)
		tares = memory.NewTareStore()
	}

	var ledger submission.Ledger
	if cfg.Sheets.Enabled() {
		sheetsLedger, err := sheets.NewGoogleLedger(ctx, cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets ledger", zap.Error(err))
		}
		ledger = sheetsLedger
	}

	var recognizer anprsvc.Recognizer = anprsvc.SimulatedRecognizer{}
	if cfg.ANPR.Simulated() {
		baseLogger.Warn("anpr engine not configured, plates are simulated")
	} else {
		recognizer = anprsvc.NewEngineRecognizer(anprclient.NewClient(cfg.ANPR), cfg.Cameras(), cfg.ANPR.CallbackURL, baseLogger.Named("anpr.engine"))
	}
	correlator := anprsvc.NewCorrelator(recognizer, cfg.ANPR.Timeout, baseLogger.Named("svc.anpr"))

	submitter := submission.NewService(store, ledger, submission.Config{
		MaxAttempts:    cfg.Submission.MaxAttempts,
		InitialBackoff: cfg.Submission.InitialBackoff,
	}, baseLogger.Named("svc.submission"))

	hub := broadcast.New(cfg.Stream.BufferSize, baseLogger.Named("stream"))
	defer hub.Close()

	scaleIDs := make([]int, 0, len(cfg.Scales))
	for _, s := range cfg.Scales {
		scaleIDs = append(scaleIDs, s.ID)
	}
	coordinator := weighing.NewCoordinator(scaleIDs, weighing.Config{
		Stability: stability.Config{
			Window:      cfg.Stability.Window,
			MinSamples:  cfg.Stability.MinSamples,
			ThresholdKg: cfg.Stability.ThresholdKg,
			ZeroBandKg:  cfg.Stability.ZeroBandKg,
		},
		StabilityTimeout: cfg.Session.StabilityTimeout,
		SessionTimeout:   cfg.Session.Timeout,
		SubmitRetryLimit: cfg.Submission.RetryLimit,
		HistorySize:      cfg.Session.HistorySize,
	}, weighing.Deps{
		Plates:    correlator,
		Submitter: submitter,
		Tares:     tares,
		Publisher: hub,
		Locks:     weighing.NewLockRegistry(),
		Logger:    baseLogger.Named("svc.weighing"),
	})

	sources, remotes := buildSources(cfg.Scales, baseLogger)
	go func() {
		if err := coordinator.Run(ctx, sources...); err != nil && !errors.Is(err, context.Canceled) {
			baseLogger.Error("scale pipelines stopped", zap.Error(err))
		}
	}()

	sched := scheduler.NewScheduler(cfg.Session.SweepSchedule, coordinator, hub, baseLogger.Named("scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	engine := router.New(router.Handlers{
		Weighing: handlers.NewWeighingHandler(coordinator, correlator, baseLogger.Named("handlers.weighing")),
		Stream:   handlers.NewStreamHandler(hub, baseLogger.Named("handlers.stream")),
		Ingest:   handlers.NewIngestHandler(remotes, baseLogger.Named("handlers.ingest")),
	}, baseLogger.Named("router"))

	// WriteTimeout stays unset: the live stream holds its response open.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.Ints("scales", scaleIDs))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildSources creates the reading source of every configured scale. Remote
// scales are also returned for the ingest endpoint.
func buildSources(scales []config.ScaleConfig, base *zap.Logger) ([]weighing.ReadingSource, source.Remotes) {
	var (
		sources []weighing.ReadingSource
		remotes source.Remotes
	)
	for _, s := range scales {
		switch s.Kind {
		case config.ScaleKindSerial:
			sources = append(sources, source.NewSerialSource(s.ID, s.Arg, s.BaudRate, logger.ForScale(base, s.ID)))
		case config.ScaleKindRemote:
			remote := source.NewRemoteSource(s.ID, s.Arg)
			remotes = append(remotes, remote)
			sources = append(sources, remote)
		default:
			sources = append(sources, source.NewSimulatedSource(s.ID))
		}
	}
	return sources, remotes
}
