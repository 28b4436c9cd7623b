package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwtpkg "tempinbox/backend/internal/auth/jwt"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token",
	Long:  "Signs an admin token with TEMPINBOX_JWT_SECRET for the /v1/admin endpoints.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWT.Secret == "" {
			return fmt.Errorf("TEMPINBOX_JWT_SECRET is not set")
		}

		manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
		token, expiresAt, err := manager.IssueAdminToken(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), map[string]any{
			"token":     token,
			"subject":   tokenSubject,
			"expiresAt": expiresAt,
		})
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "subject recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: JWT access expiry)")
	rootCmd.AddCommand(tokenCmd)
}
