package main

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	payCustomer string
	payAmount   string
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Create a payment plan and initiate a payment against its first block",
	Long: `Create a payment plan for the amount, take the plan's first settlement block and
submit a payment initiation against it. The gateway's initiation response is printed as-is.

Example:
  accountsctl pay --customer IND_CUST_001 --amount 10.00`,
	Args: cobra.NoArgs,
	RunE: runPay,
}

func init() {
	payCmd.Flags().StringVar(&payCustomer, "customer", "", "customer id sent as x-customer-id")
	payCmd.Flags().StringVar(&payAmount, "amount", "", "payment amount, e.g. 10.00")
	_ = payCmd.MarkFlagRequired("customer")
	_ = payCmd.MarkFlagRequired("amount")
}

func runPay(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(payAmount)
	if err != nil {
		return fmt.Errorf("invalid --amount %q: %w", payAmount, err)
	}

	svc, err := loadServices(cmd.Context(), false, false)
	if err != nil {
		return err
	}
	defer svc.close()

	result, err := svc.payments.Pay(cmd.Context(), amount, payCustomer)
	if err != nil {
		return err
	}

	var body interface{} = string(result.Initiation.Body)
	if json.Valid(result.Initiation.Body) {
		body = json.RawMessage(result.Initiation.Body)
	}
	if err := printJSON(cmd.OutOrStdout(), map[string]interface{}{
		"paymentPlanId": result.PaymentPlanID,
		"blockId":       result.BlockID,
		"initiation": map[string]interface{}{
			"status_code": result.Initiation.StatusCode,
			"body":        body,
		},
	}); err != nil {
		return err
	}
	if result.Initiation.StatusCode >= 300 {
		return fmt.Errorf("gateway rejected the initiation with status %d", result.Initiation.StatusCode)
	}
	return nil
}
