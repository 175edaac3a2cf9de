package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"credit_pool/internal/app"
	"credit_pool/internal/config"
	"credit_pool/internal/models"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "Operator tool for the credit pool",
	Long: `poolctl runs maintenance against the credit pool database: schema
migration, pricing catalog seeding, ledger verification and adjustment,
resource expiry and development tokens.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			os.Setenv("ENV_FILE", envFile)
		}
		utils.ConfigureLogging(logLevel, true)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before the environment (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(migrateCmd, pricingCmd, ledgerCmd, poolCmd, tokenCmd)
}

// openStore loads configuration and opens the Postgres store. poolctl has
// nothing useful to do against an in-memory store.
func openStore(ctx context.Context, migrate bool) (*config.Config, storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	if migrate {
		cfg.Database.AutoMigrate = true
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// creditsValue lets credit amounts be passed as flags, e.g. --amount -2.5
type creditsValue struct {
	c *models.Credits
}

var _ pflag.Value = creditsValue{}

func (v creditsValue) String() string {
	if v.c == nil {
		return "0"
	}
	return v.c.String()
}

func (v creditsValue) Set(s string) error {
	c, err := models.ParseCredits(s)
	if err != nil {
		return fmt.Errorf("invalid credit amount %q: %w", s, err)
	}
	*v.c = c
	return nil
}

func (v creditsValue) Type() string { return "credits" }
