package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"credit_pool/internal/app"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Manage the model pricing table",
}

var pricingSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Price the configured catalog and upsert it",
	Long: `Runs every catalog entry through the pricing engine and upserts the
resulting rows. The catalog comes from POOL_CONFIG_FILE when set and the
built-in defaults otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := app.SeedPricing(cmd.Context(), store, cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d models\n", n)
		return nil
	},
}

var pricingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active model pricing",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.ListPricing(cmd.Context(), true)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "MODEL\tPROVIDER\tTIER\tIN/1K\tOUT/1K\tIMAGE")
		for _, p := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				p.ModelID, p.Provider, p.Tier, p.CreditsPer1KIn, p.CreditsPer1KOut, p.ImageSurcharge)
		}
		return nil
	},
}

func init() {
	pricingCmd.AddCommand(pricingSeedCmd, pricingListCmd)
}
