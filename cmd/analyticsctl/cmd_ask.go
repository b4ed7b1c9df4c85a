package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/ai-analytics/internal/analytics"
	"github.com/suPer8Hu/ai-analytics/internal/app"
	"github.com/suPer8Hu/ai-analytics/internal/db"
	"github.com/suPer8Hu/ai-analytics/internal/session"
)

var askSessionID string

func init() {
	rootCmd.AddCommand(askCmd, historyCmd)
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session to continue")
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one analytics question and print the unified response",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		cfg := loadConfig()
		ctx := context.Background()

		a, err := app.Build(ctx, cfg, db.Connect(cfg.DBDSN))
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}
		defer a.Close()

		ans, err := a.Service(nil).Ask(ctx, tenantID, askSessionID, strings.Join(args, " "))
		if perr := printJSON(ans); perr != nil {
			return perr
		}
		return err
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the raw messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		cfg := loadConfig()
		ctx := context.Background()

		backend, closeFn, err := app.OpenSessionBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		// reading history never summarizes, so no model is needed
		svc := analytics.NewService(session.NewStore(backend, nil, cfg.Session), nil, nil, nil, cfg.DBType)
		msgs, err := svc.History(ctx, tenantID, args[0])
		if err != nil {
			return err
		}
		return printJSON(msgs)
	},
}
