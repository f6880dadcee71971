package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shopfiscal/internal/config"
	"shopfiscal/internal/domain/auth"
)

func tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API access tokens",
	}

	var (
		req auth.TokenRequest
		ttl time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign an access token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
			if ttl > 0 {
				jwtCfg.AccessTokenTTL = ttl
			}
			token, expiresAt, err := auth.NewJWTService(jwtCfg).GenerateAccessToken(req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().StringVar(&req.UserID, "user", "", "User ID")
	issue.Flags().StringVar(&req.Email, "email", "", "User email")
	issue.Flags().StringSliceVar(&req.Roles, "role", nil, "Role granted (repeatable)")
	issue.Flags().StringSliceVar(&req.OrgIDs, "org-access", nil, "Organization the token may act for (repeatable)")
	issue.Flags().BoolVar(&req.IsAdmin, "admin", false, "Grant access to every organization")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to 15m)")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}
