package main

import (
	"github.com/spf13/cobra"
)

var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "List the institution offers published by the gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadServices(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer svc.close()

		offers, err := svc.payments.Offers(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), offers)
	},
}
