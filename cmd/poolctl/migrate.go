package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Creates any missing tables and indexes. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Println("Schema is up to date")
		return nil
	},
}
