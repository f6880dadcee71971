// Package main is fiscalctl, the operator CLI of the fiscal engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shopfiscal/internal/app"
	"shopfiscal/internal/config"
	appctx "shopfiscal/internal/core/context"
	"shopfiscal/internal/core/id"
	"shopfiscal/pkg/logger"
)

// operatorID is the audit user of changes made through the CLI.
const operatorID = "fiscalctl"

type globals struct {
	orgID string
	json  bool
}

func main() {
	g := &globals{}

	root := &cobra.Command{
		Use:           "fiscalctl",
		Short:         "Operate the fiscal rule engine and period ledgers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: true})
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			logger.SetDefault(log)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.orgID, "org", "", "Organization ID")
	root.PersistentFlags().BoolVar(&g.json, "json", true, "Print results as JSON")

	root.AddCommand(
		migrateCommand(),
		seedCommand(),
		calculateCommand(g),
		periodCommand(g),
		auditCommand(g),
		tokenCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// withEngine opens the configured engine, runs fn and releases everything.
func withEngine(ctx context.Context, fn func(ctx context.Context, e *app.Engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tunables, err := config.LoadTunables(ctx, cfg.TunablesPath)
	if err != nil {
		return err
	}
	e, release, err := app.Open(ctx, cfg, app.Options{Tunables: tunables})
	if err != nil {
		return err
	}
	defer release()
	defer e.Close()

	ctx = appctx.WithActor(ctx, &appctx.Actor{UserID: operatorID})
	return fn(ctx, e)
}

func (g *globals) org() (id.ID, error) {
	if g.orgID == "" {
		return id.ID{}, fmt.Errorf("--org is required")
	}
	orgID, err := id.Parse(g.orgID)
	if err != nil {
		return id.ID{}, fmt.Errorf("invalid --org: %w", err)
	}
	return orgID, nil
}

func printResult(cmd *cobra.Command, asJSON bool, v any) error {
	if !asJSON {
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
