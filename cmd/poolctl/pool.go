package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"credit_pool/internal/pool"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect and maintain pooled resources",
}

var poolStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool-wide totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := pool.New(store, nil, nil).Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var poolExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Mark resources past their expiry as expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := pool.New(store, nil, nil).ExpireDue(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d resources\n", n)
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolStatsCmd, poolExpireCmd)
}
