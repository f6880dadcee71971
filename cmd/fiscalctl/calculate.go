package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"shopfiscal/internal/app"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/rule"
)

func calculateCommand(g *globals) *cobra.Command {
	var (
		operation      string
		amount         string
		regimeID       string
		classification string
		origin         string
		destination    string
		date           string
		post           bool
	)

	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Compute the taxes of an operation",
		Long: `Compute the taxes owed on an operation using the rules effective on --date.

With --post the result is also posted to the ledgers of the period containing --date.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := g.org()
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}

			req := calculator.Request{
				Operation: rule.Operation(operation),
				Amount:    amt,
			}
			if regimeID != "" {
				rid, err := id.Parse(regimeID)
				if err != nil {
					return fmt.Errorf("invalid --regime: %w", err)
				}
				req.RegimeID = types.Some(rid)
			}
			if classification != "" {
				cid, err := id.Parse(classification)
				if err != nil {
					return fmt.Errorf("invalid --classification: %w", err)
				}
				req.ClassificationID = types.Some(cid)
			}
			if origin != "" {
				req.OriginUF = types.Some(origin)
			}
			if destination != "" {
				req.DestinationUF = types.Some(destination)
			}
			at := time.Now().UTC()
			if date != "" {
				at, err = time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date, want YYYY-MM-DD: %w", err)
				}
			}
			req.EffectiveDate = &at

			return withEngine(cmd.Context(), func(ctx context.Context, e *app.Engine) error {
				res, err := e.Calculator.Calculate(ctx, orgID, req)
				if err != nil {
					return err
				}
				if !post {
					return printResult(cmd, g.json, res)
				}
				posted, err := e.Ledgers.Post(ctx, orgID, res, period.Of(at))
				if err != nil {
					return err
				}
				return printResult(cmd, g.json, posted)
			})
		},
	}

	cmd.Flags().StringVar(&operation, "operation", string(rule.OpSale), "Operation type")
	cmd.Flags().StringVar(&amount, "amount", "", "Operation amount")
	cmd.Flags().StringVar(&regimeID, "regime", "", "Regime ID (defaults to the effective setting)")
	cmd.Flags().StringVar(&classification, "classification", "", "Fiscal classification ID")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin state")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination state")
	cmd.Flags().StringVar(&date, "date", "", "Effective date, YYYY-MM-DD (defaults to today)")
	cmd.Flags().BoolVar(&post, "post", false, "Post the result to the period ledgers")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
