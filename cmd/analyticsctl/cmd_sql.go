package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/ai-analytics/internal/sandbox"
)

var policyFile string

func init() {
	rootCmd.AddCommand(checkSQLCmd)
	checkSQLCmd.Flags().StringVar(&policyFile, "policy", "", "rego policy file (defaults to SQL_POLICY_FILE or the built-in policy)")
}

var checkSQLCmd = &cobra.Command{
	Use:   "check-sql <query>",
	Short: "Run a statement through the sandbox checks without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		path := policyFile
		if path == "" {
			path = loadConfig().SQLPolicyFile
		}
		guard, err := sandbox.LoadPolicyGuard(ctx, path)
		if err != nil {
			return err
		}

		q := strings.Join(args, " ")
		if err := sandbox.New(nil, sandbox.WithGuard(guard)).ForTenant(tenantID).Validate(ctx, q); err != nil {
			return fmt.Errorf("blocked: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "allowed")
		return nil
	},
}
