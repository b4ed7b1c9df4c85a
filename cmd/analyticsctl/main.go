package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/ai-analytics/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "analyticsctl",
	Short:         "Operate the clinic analytics agent from a terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var tenantID uint64

func init() {
	rootCmd.PersistentFlags().Uint64Var(&tenantID, "tenant", 0, "tenant (clinic owner) id")
}

func loadConfig() config.Config {
	return config.Load()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireTenant() error {
	if tenantID == 0 {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
