package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omenworks/omen/internal/config"
	"github.com/omenworks/omen/internal/ledger"
	"github.com/omenworks/omen/internal/reconcile"
)

// runReconcile runs the heal pass once and reports, or stays up on the
// configured schedule with --loop.
func runReconcile(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	loop, _ := cmd.Flags().GetBool("loop")
	lookback, _ := cmd.Flags().GetInt("lookback")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if lookback > 0 {
		cfg.Reconcile.LookbackDays = lookback
	}

	logger := log.Logger

	led, err := ledger.New(cfg.Ledger, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	reconciler, err := buildReconciler(cfg, led, logger)
	if err != nil {
		return err
	}

	if loop {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			cancel()
		}()

		return reconciler.Loop(ctx)
	}

	report, err := reconciler.Run(context.Background())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Println(string(out))

	if report.Failed() {
		failed := 0
		for _, p := range report.Partitions {
			if p.Status == reconcile.StatusFailed {
				failed++
			}
		}
		return fmt.Errorf("reconcile: %d partition(s) failed", failed)
	}
	return nil
}
