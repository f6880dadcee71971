package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"shopfiscal/internal/app"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/infrastructure/http/v1/dto"
)

type periodAction func(e *app.Engine) func(ctx context.Context, orgID id.ID, p period.Period) (*ledger.PeriodActionResult, error)

func periodCommand(g *globals) *cobra.Command {
	var year, month int

	cmd := &cobra.Command{
		Use:   "period",
		Short: "Close, reopen or summarize an accounting period",
	}
	cmd.PersistentFlags().IntVar(&year, "year", 0, "Period year")
	cmd.PersistentFlags().IntVar(&month, "month", 0, "Period month (1-12)")

	run := func(action periodAction) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			orgID, err := g.org()
			if err != nil {
				return err
			}
			p, err := period.New(year, month)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *app.Engine) error {
				res, err := action(e)(ctx, orgID, p)
				if err != nil {
					return err
				}
				if err := printResult(cmd, g.json, dto.FromPeriodAction(res)); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("period %s: %v", p, res.Error)
				}
				return nil
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "close",
			Short: "Close every open ledger of the period",
			RunE: run(func(e *app.Engine) func(context.Context, id.ID, period.Period) (*ledger.PeriodActionResult, error) {
				return e.Ledgers.ClosePeriod
			}),
		},
		&cobra.Command{
			Use:   "reopen",
			Short: "Reopen every closed ledger of the period",
			RunE: run(func(e *app.Engine) func(context.Context, id.ID, period.Period) (*ledger.PeriodActionResult, error) {
				return e.Ledgers.ReopenPeriod
			}),
		},
		&cobra.Command{
			Use:   "summary",
			Short: "Print the ledger totals of the period",
			RunE: func(cmd *cobra.Command, args []string) error {
				orgID, err := g.org()
				if err != nil {
					return err
				}
				p, err := period.New(year, month)
				if err != nil {
					return err
				}
				return withEngine(cmd.Context(), func(ctx context.Context, e *app.Engine) error {
					sum, err := e.Ledgers.Summary(ctx, orgID, p)
					if err != nil {
						return err
					}
					return printResult(cmd, g.json, sum)
				})
			},
		},
	)
	return cmd
}
