package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omenworks/omen/internal/config"
	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/persistence"
	"github.com/omenworks/omen/internal/pipeline"
)

// scanSourceOutcome is one source's slice of the scan artifact.
type scanSourceOutcome struct {
	Source  string               `json:"source"`
	Fetched int                  `json:"fetched"`
	Stats   *pipeline.BatchStats `json:"stats,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// scanArtifact is the JSON report one scan run writes.
type scanArtifact struct {
	GeneratedAt    time.Time           `json:"generated_at"`
	AsOf           *time.Time          `json:"asof,omitempty"`
	RulesetVersion string              `json:"ruleset_version"`
	Sources        []scanSourceOutcome `json:"sources"`
	Signals        []domain.OmenSignal `json:"signals"`
}

// runScan fetches once from the selected sources, processes through the
// demo pipeline against an in-memory store and writes the artifact.
// Signals generated here never reach the configured repository or the
// ledger; the artifact is the output.
func runScan(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	sourceName, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")
	asofRaw, _ := cmd.Flags().GetString("asof")
	outDir, _ := cmd.Flags().GetString("out")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var asOf *time.Time
	base := time.Now().UTC()
	if asofRaw != "" {
		t, err := time.Parse(time.RFC3339, asofRaw)
		if err != nil {
			return fmt.Errorf("invalid --asof %q: %w", asofRaw, err)
		}
		t = t.UTC()
		asOf = &t
		base = t
	}

	logger := log.Logger

	// Movement tracking stays in process for a one-shot run.
	history, err := persistence.OpenHistory("", cfg.Storage.HistoryWindow, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()

	srcs := buildSources(cfg, history, base, logger)
	if sourceName != "" {
		kept := srcs[:0]
		for _, src := range srcs {
			if src.Name() == sourceName {
				kept = append(kept, src)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("unknown source %q", sourceName)
		}
		srcs = kept
	}

	repo := persistence.NewMemory()
	orch := pipeline.NewOrchestrator(cfg.Orchestrator, repo,
		pipeline.WithValidator(buildValidator(cfg)),
		pipeline.WithLogger(logger),
	)

	var pctx *domain.ProcessingContext
	if asOf != nil {
		p := domain.NewProcessingContext(*asOf, cfg.Orchestrator.RulesetVersion)
		pctx = &p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	artifact := scanArtifact{
		GeneratedAt:    time.Now().UTC(),
		AsOf:           asOf,
		RulesetVersion: cfg.Orchestrator.RulesetVersion,
	}

	for _, src := range srcs {
		outcome := scanSourceOutcome{Source: src.Name()}
		events, err := src.FetchEvents(ctx, limit, asOf)
		if err != nil {
			outcome.Error = err.Error()
			logger.Warn().Err(err).Str("source", src.Name()).Msg("scan fetch failed")
			artifact.Sources = append(artifact.Sources, outcome)
			continue
		}
		outcome.Fetched = len(events)

		batch := orch.ProcessSourceBatch(ctx, src.Name(), events, pctx)
		outcome.Stats = &batch.Stats
		for _, res := range batch.Results {
			if res.Signal != nil && !res.Cached {
				artifact.Signals = append(artifact.Signals, *res.Signal)
			}
		}
		artifact.Sources = append(artifact.Sources, outcome)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outDir, fmt.Sprintf("scan-%s.json", artifact.GeneratedAt.Format("20060102-150405")))
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	fmt.Printf("Scan complete: %d signals from %d sources\n", len(artifact.Signals), len(artifact.Sources))
	fmt.Printf("Artifact: %s\n", path)
	return nil
}
