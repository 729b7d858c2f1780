package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omenworks/omen/internal/activity"
	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/config"
	"github.com/omenworks/omen/internal/generator"
	httpapi "github.com/omenworks/omen/internal/interfaces/http"
	"github.com/omenworks/omen/internal/ledger"
	"github.com/omenworks/omen/internal/metrics"
	"github.com/omenworks/omen/internal/persistence"
	"github.com/omenworks/omen/internal/pipeline"
	"github.com/omenworks/omen/internal/publish"
	"github.com/omenworks/omen/internal/stream"
)

// migrator is satisfied by the Postgres repository; the in-memory one
// has no schema to prepare.
type migrator interface {
	Migrate(ctx context.Context) error
}

// runServe assembles the engine and runs it until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logger := log.Logger
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.
	repo, err := persistence.Open(cfg.Storage.PostgresDSN, cfg.Storage.QueryTimeout)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	if m, ok := repo.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate repository: %w", err)
		}
	}

	history, err := persistence.OpenHistory(cfg.Storage.HistoryPath, cfg.Storage.HistoryWindow, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()

	led, err := ledger.New(cfg.Ledger, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	// Sources and provenance.
	srcs := buildSources(cfg, history, time.Now().UTC(), logger)
	sourceRegistry := attest.NewRegistry()
	for _, src := range srcs {
		sourceRegistry.Register(src)
	}

	attests := attest.NewStore()
	recorder := attest.NewRecorder(attest.NewBuilder(sourceRegistry), attests, logger)

	audit := attest.NewAuditLog(logger, 256)
	defer audit.Close()
	gateOpts := []attest.GateOption{attest.WithAudit(audit), attest.WithLogger(logger)}
	if cfg.LiveGate.CacheTTL > 0 {
		gateOpts = append(gateOpts, attest.WithCache(attest.NewAuto(cfg.Storage.RedisAddr, cfg.LiveGate.CacheTTL)))
	}
	gate := attest.NewLiveGate(cfg.LiveGate, sourceRegistry, gateOpts...)

	// Observability.
	collector := metrics.NewCollector(cfg.Metrics, logger)
	feed := activity.NewLog(cfg.Activity.LogCapacity)
	tracker := activity.NewTracker(cfg.Activity.TrackerCapacity)
	monitor := pipeline.MultiMonitor{collector, activity.NewMonitor(feed, tracker), recorder}

	// Downstream fan-out.
	hub := stream.NewHub(logger)
	defer hub.Close()
	publishers := pipeline.MultiPublisher{hub.Publisher()}
	if cfg.Webhook.URL != "" {
		hook, err := publish.NewWebhook(cfg.Webhook, logger)
		if err != nil {
			return fmt.Errorf("webhook publisher: %w", err)
		}
		publishers = append(publishers, hook)
	}

	validator := buildValidator(cfg)
	demo := pipeline.NewOrchestrator(cfg.Orchestrator, repo,
		pipeline.WithValidator(validator),
		pipeline.WithDLQ(pipeline.NewDLQ(cfg.DLQ)),
		pipeline.WithMonitor(monitor),
		pipeline.WithPublisher(publishers),
		pipeline.WithLedger(led),
		pipeline.WithLogger(logger),
	)
	live := pipeline.NewOrchestrator(cfg.Orchestrator, repo,
		pipeline.WithValidator(validator),
		pipeline.WithGenerator(pipeline.NewGenerator(pipeline.GeneratorConfig{Live: true})),
		pipeline.WithDLQ(pipeline.NewDLQ(cfg.DLQ)),
		pipeline.WithMonitor(monitor),
		pipeline.WithPublisher(publishers),
		pipeline.WithLedger(led),
		pipeline.WithLogger(logger),
	)

	loop := generator.NewLoop(cfg.Generator, srcs, &gatedBatcher{gate: gate, live: live, demo: demo}, logger,
		generator.WithHealthSink(collector))

	reconciler, err := buildReconciler(cfg, led, logger)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		RequestTimeout:  cfg.Server.RequestTimeout,
		StreamBuffer:    cfg.Stream.Buffer,
		StreamHeartbeat: cfg.Stream.Heartbeat,
	}, httpapi.Deps{
		Repo:       repo,
		Demo:       demo,
		Live:       live,
		Sources:    srcs,
		Gate:       gate,
		Registry:   sourceRegistry,
		Attests:    attests,
		Collector:  collector,
		Activity:   feed,
		Rejections: tracker,
		Hub:        hub,
		Loop:       loop,
		Ledger:     led,
	}, logger)
	if err != nil {
		return err
	}

	go func() {
		if err := loop.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("generator loop stopped")
		}
	}()
	go func() {
		if err := reconciler.Loop(ctx); err != nil {
			logger.Error().Err(err).Msg("reconcile loop stopped")
		}
	}()

	// Ledger housekeeping: seal due partitions, then let retention act
	// on whatever sealing unlocked.
	housekeeper := cron.New()
	if _, err := housekeeper.AddFunc("@hourly", func() {
		sealed, err := led.SweepSeals()
		if err != nil {
			logger.Error().Err(err).Msg("ledger seal sweep failed")
		} else if len(sealed) > 0 {
			logger.Info().Strs("partitions", sealed).Msg("ledger partitions sealed")
		}
		report, err := led.Compact()
		if err != nil {
			logger.Error().Err(err).Msg("ledger compaction failed")
			return
		}
		if len(report.Compressed)+len(report.Archived)+len(report.Deleted) > 0 {
			logger.Info().
				Int("compressed", len(report.Compressed)).
				Int("archived", len(report.Archived)).
				Int("deleted", len(report.Deleted)).
				Msg("ledger retention pass")
		}
	}); err != nil {
		return fmt.Errorf("housekeeping schedule: %w", err)
	}
	housekeeper.Start()
	defer housekeeper.Stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr()).
			Bool("live_mode_allowed", cfg.LiveGate.AllowLiveMode).
			Str("ruleset", cfg.Orchestrator.RulesetVersion).
			Int("sources", len(srcs)).
			Msg("omen serving")
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("omen stopped")
	return nil
}
