package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shopfiscal/internal/app"
	"shopfiscal/internal/domain/audit"
)

func auditCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}

	var (
		table string
		user  string
		since time.Duration
		limit int
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the latest audit entries of an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := g.org()
			if err != nil {
				return err
			}
			f := audit.Filter{
				OrgID:     &orgID,
				TableName: table,
				UserID:    user,
				Limit:     limit,
			}
			if since > 0 {
				from := time.Now().Add(-since)
				f.From = &from
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *app.Engine) error {
				res, err := e.Audit.Query(ctx, f)
				if err != nil {
					return err
				}
				if g.json {
					return printResult(cmd, true, res)
				}
				for _, en := range res.Items {
					mark := "ok"
					if !en.Verified {
						mark = "TAMPERED"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-24s %s  %s  [%s]\n",
						en.CreatedAt.Format(time.RFC3339), en.Operation, en.TableName, en.RecordID, en.UserID, mark)
				}
				return nil
			})
		},
	}
	tail.Flags().StringVar(&table, "table", "", "Only entries of this table")
	tail.Flags().StringVar(&user, "user", "", "Only entries made by this user")
	tail.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 24h)")
	tail.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")

	cmd.AddCommand(tail)
	return cmd
}
