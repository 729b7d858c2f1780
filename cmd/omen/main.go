package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "omen"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "OMEN signal intelligence engine",
		Version: version,
		Long: `OMEN converts prediction-market, news, AIS, commodity and freight
feeds into audited, decision-grade intelligence signals.

It makes no risk decisions and no recommendations: every emitted signal
carries its own explanation chain, provenance attestation and ledger
coordinates, and live output only exists behind the three-layer gate.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file (default $OMEN_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zerolog.SetGlobalLevel(lvl)
		return nil
	}

	// Add serve command: the long-running engine.
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signal engine and its HTTP API",
		Long: `Starts the full engine: scenario sources behind breakers, the
validation pipeline, the background generation loop, the reconcile
loop, ledger housekeeping and the collaborator HTTP API. Runs until
SIGINT/SIGTERM, then drains in-flight requests.`,
		RunE: runServe,
	}

	serveCmd.Flags().String("host", "", "Listen host (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")

	// Add scan command for one-shot generation.
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one fetch-and-process cycle",
		Long: `Fetches from every configured source (or one, with --source),
runs the events through the demo pipeline against an in-memory store,
and writes a JSON artifact with the per-source outcomes and the
generated signals.`,
		RunE: runScan,
	}

	scanCmd.Flags().String("source", "", "Only fetch from this source")
	scanCmd.Flags().Int("limit", 50, "Maximum events per source")
	scanCmd.Flags().String("asof", "", "Process as of this RFC3339 instant (deterministic replay)")
	scanCmd.Flags().String("out", "out/scan", "Artifact output directory")

	// Add reconcile command for ledger-vs-downstream healing.
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Heal divergence between the ledger and the downstream",
		Long: `Compares sealed ledger partitions against the downstream's
processed ids and replays anything missing. One-shot by default; exits
non-zero when any partition fails. --loop runs on the configured cron
schedule instead.`,
		RunE: runReconcile,
	}

	reconcileCmd.Flags().Bool("loop", false, "Run on the configured schedule until interrupted")
	reconcileCmd.Flags().Int("lookback", 0, "Override lookback window in days")

	// Add ledger command group for partition maintenance.
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the signal ledger",
		Long:  "Checksum verification, manual sealing and retention compaction for ledger partitions.",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify [partition...]",
		Short: "Verify partition checksums",
		Long:  "Recomputes each partition's record checksums against its manifest. All partitions when none are named.",
		RunE:  runLedgerVerify,
	}

	sealCmd := &cobra.Command{
		Use:   "seal <partition>",
		Short: "Seal a partition",
		Long:  "Seals the named partition so reconcile and retention can see it. Sealing is idempotent.",
		Args:  cobra.ExactArgs(1),
		RunE:  runLedgerSeal,
	}

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Run the retention lifecycle once",
		Long:  "Compresses sealed partitions past the hot tier, archives past the warm tier and deletes expired cold segments when retention allows.",
		RunE:  runLedgerCompact,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List partitions with their manifests",
		RunE:  runLedgerStatus,
	}

	ledgerCmd.AddCommand(verifyCmd)
	ledgerCmd.AddCommand(sealCmd)
	ledgerCmd.AddCommand(compactCmd)
	ledgerCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(serveCmd)     // Long-running engine
	rootCmd.AddCommand(scanCmd)      // One-shot generation
	rootCmd.AddCommand(reconcileCmd) // Downstream healing
	rootCmd.AddCommand(ledgerCmd)    // Partition maintenance

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
