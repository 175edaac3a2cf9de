package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"credit_pool/internal/auth"
	"credit_pool/internal/config"
)

var (
	tokenAccount string
	tokenAdmin   bool
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a bearer token for local testing",
	Long: `Signs an HS256 token with JWT_SECRET. Production tokens are issued by
the identity provider; this exists for development and smoke tests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if tokenAccount == "" {
			return errors.New("--account is required")
		}

		token, exp, err := auth.SignToken(auth.Principal{AccountID: tokenAccount, IsAdmin: tokenAdmin}, cfg.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAccount, "account", "", "account id placed in the subject claim")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant admin access")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
