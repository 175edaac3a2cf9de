package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"credit_pool/internal/ledger"
	"credit_pool/internal/models"
)

var (
	adjustAmount      models.Credits
	adjustDescription string
	verifyAll         bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and correct account balances",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify [account]",
	Short: "Check balances against their transaction history",
	Long: `Recomputes each balance from its transactions and lifetime counters.
Mismatched accounts are frozen until unfrozen with "ledger unfreeze".`,
	Args: func(cmd *cobra.Command, args []string) error {
		if verifyAll == (len(args) == 1) {
			return errors.New("pass exactly one account or --all")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()
		l := ledger.New(store)

		accounts := args
		if verifyAll {
			balances, err := store.ListBalances(cmd.Context())
			if err != nil {
				return err
			}
			accounts = accounts[:0]
			for _, b := range balances {
				accounts = append(accounts, b.AccountID)
			}
		}

		violations := 0
		for _, account := range accounts {
			err := l.Verify(cmd.Context(), account)
			switch {
			case err == nil:
				fmt.Printf("ok       %s\n", account)
			case errors.Is(err, ledger.ErrInvariantViolation):
				violations++
				fmt.Printf("FROZEN   %s: %v\n", account, err)
			default:
				return err
			}
		}
		if violations > 0 {
			return fmt.Errorf("%d of %d accounts failed verification", violations, len(accounts))
		}
		return nil
	},
}

var ledgerAdjustCmd = &cobra.Command{
	Use:   "adjust <account>",
	Short: "Post an admin adjustment",
	Long:  `Posts a signed admin adjustment. Adjustments may take a balance below zero.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()

		txn, err := ledger.New(store).Adjust(cmd.Context(), args[0], adjustAmount, adjustDescription)
		if err != nil {
			return err
		}
		return printJSON(txn)
	},
}

var ledgerUnfreezeCmd = &cobra.Command{
	Use:   "unfreeze <account>",
	Short: "Clear the frozen flag after reconciliation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := ledger.New(store).Unfreeze(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Unfroze %s\n", args[0])
		return nil
	},
}

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance <account>",
	Short: "Show an account balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer store.Close()

		b, err := ledger.New(store).GetOrCreateBalance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(b)
	},
}

func init() {
	ledgerVerifyCmd.Flags().BoolVar(&verifyAll, "all", false, "verify every account")

	ledgerAdjustCmd.Flags().Var(creditsValue{&adjustAmount}, "amount", "signed credit amount, e.g. 10 or -2.5")
	ledgerAdjustCmd.Flags().StringVar(&adjustDescription, "description", "", "reason recorded on the transaction")
	ledgerAdjustCmd.MarkFlagRequired("amount")
	ledgerAdjustCmd.MarkFlagRequired("description")

	ledgerCmd.AddCommand(ledgerVerifyCmd, ledgerAdjustCmd, ledgerUnfreezeCmd, ledgerBalanceCmd)
}
