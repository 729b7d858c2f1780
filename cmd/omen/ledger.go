package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omenworks/omen/internal/config"
	"github.com/omenworks/omen/internal/ledger"
)

// openLedger loads the config tree and opens the ledger it names.
func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	led, err := ledger.New(cfg.Ledger, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return led, nil
}

// runLedgerVerify recomputes record checksums for the named partitions,
// or all of them.
func runLedgerVerify(cmd *cobra.Command, args []string) error {
	led, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer led.Close()

	names := args
	if len(names) == 0 {
		names, err = led.Partitions()
		if err != nil {
			return fmt.Errorf("list partitions: %w", err)
		}
	}
	if len(names) == 0 {
		fmt.Println("ledger is empty")
		return nil
	}

	var failed []string
	for _, name := range names {
		n, err := led.Verify(name)
		if err != nil {
			failed = append(failed, name)
			fmt.Printf("%-22s FAILED  %v\n", name, err)
			continue
		}
		fmt.Printf("%-22s OK      %d records\n", name, n)
	}
	if len(failed) > 0 {
		return fmt.Errorf("verify: %d partition(s) failed: %v", len(failed), failed)
	}
	return nil
}

// runLedgerSeal closes one partition to writes.
func runLedgerSeal(cmd *cobra.Command, args []string) error {
	led, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer led.Close()

	name := args[0]
	if err := led.Seal(name); err != nil {
		return fmt.Errorf("seal %s: %w", name, err)
	}
	fmt.Printf("Sealed %s\n", name)
	return nil
}

// runLedgerCompact runs one retention pass and prints what it did.
func runLedgerCompact(cmd *cobra.Command, args []string) error {
	led, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer led.Close()

	report, err := led.Compact()
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// runLedgerStatus lists every partition with its manifest state.
func runLedgerStatus(cmd *cobra.Command, args []string) error {
	led, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer led.Close()

	names, err := led.Partitions()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("ledger is empty")
		return nil
	}

	fmt.Printf("%-22s %-10s %-10s %-s\n", "PARTITION", "RECORDS", "SEALED", "UPDATED")
	for _, name := range names {
		m, err := led.Manifest(name)
		if err != nil {
			fmt.Printf("%-22s %-10s %-10s %v\n", name, "-", "-", err)
			continue
		}
		sealed := "no"
		if m.Sealed() {
			sealed = "yes"
		}
		fmt.Printf("%-22s %-10d %-10s %s\n", name, m.HighwaterSequence, sealed, m.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
