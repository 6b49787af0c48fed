package main

import (
	"encoding/json"
	"fmt"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's credits balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		bal, err := c.Balance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(bal)
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit <user-id>",
	Short: "Record a deposit in credits or tokens",
	Long: `Record a deposit. Give exactly one of --credits and --tokens.

Retries must reuse --settlement-id; the original transaction is returned
instead of a second deposit.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeposit,
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <user-id>",
	Short: "Record a withdrawal in credits",
	Args:  cobra.ExactArgs(1),
	RunE:  runWithdraw,
}

var transactionsCmd = &cobra.Command{
	Use:   "transactions <user-id>",
	Short: "List a user's transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		page, err := c.Transactions(cmd.Context(), args[0], limit, offset)
		if err != nil {
			return err
		}
		return printJSON(page)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{depositCmd, withdrawCmd} {
		cmd.Flags().String("settlement-id", "", "platform settlement id (generated when empty)")
		cmd.Flags().String("credits", "", "credits amount")
	}
	depositCmd.Flags().String("tokens", "", "gross token amount")
	depositCmd.Flags().String("metadata", "", "JSON object stored with the transaction")
	withdrawCmd.Flags().String("destination", "", "wallet address; empty means marketplace")

	transactionsCmd.Flags().Int("limit", 0, "page size (server default when 0)")
	transactionsCmd.Flags().Int("offset", 0, "page offset")
}

func runDeposit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	req := model.DepositRequest{
		PlatformUserID:       args[0],
		PlatformSettlementID: settlementID(cmd),
	}
	if req.CreditsAmount, err = decimalFlag(cmd, "credits"); err != nil {
		return err
	}
	if req.TokenAmount, err = decimalFlag(cmd, "tokens"); err != nil {
		return err
	}
	if (req.CreditsAmount == nil) == (req.TokenAmount == nil) {
		return fmt.Errorf("exactly one of --credits and --tokens is required")
	}
	if raw, _ := cmd.Flags().GetString("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			return fmt.Errorf("--metadata: %w", err)
		}
	}

	tx, err := c.Deposit(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(tx)
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	credits, err := decimalFlag(cmd, "credits")
	if err != nil {
		return err
	}
	if credits == nil {
		return fmt.Errorf("--credits is required")
	}
	destination, _ := cmd.Flags().GetString("destination")

	tx, err := c.Withdraw(cmd.Context(), model.WithdrawalRequest{
		PlatformUserID:       args[0],
		CreditsAmount:        credits,
		Destination:          destination,
		PlatformSettlementID: settlementID(cmd),
	})
	if err != nil {
		return err
	}
	return printJSON(tx)
}

func settlementID(cmd *cobra.Command) string {
	id, _ := cmd.Flags().GetString("settlement-id")
	if id == "" {
		id = uuid.NewString()
		cmd.PrintErrf("settlement id: %s\n", id)
	}
	return id
}

func decimalFlag(cmd *cobra.Command, name string) (*decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &d, nil
}
