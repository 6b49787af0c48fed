package model

import (
	"encoding/json"
	"time"

	"github.com/GoPolymarket/settlegate/internal/conversion"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Terminal statuses never change again.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DestinationMarketplace is recorded when a withdrawal names no wallet address.
const DestinationMarketplace = "marketplace"

const (
	SourceAPI   = "api"
	SourceChain = "chain"
)

// Balance is one row per (platform, platform-scoped user).
type Balance struct {
	PlatformID        string          `json:"-"`
	PlatformUserID    string          `json:"platformUserId"`
	CreditsBalance    decimal.Decimal `json:"creditsBalance"`
	TokenAmount       decimal.Decimal `json:"tokenAmount"`
	LastTransactionAt *time.Time      `json:"lastTransactionAt"`
}

// Transaction is an immutable ledger entry once it reaches a terminal status.
type Transaction struct {
	ID                   string            `json:"id"`
	PlatformID           string            `json:"platformId"`
	PlatformUserID       string            `json:"platformUserId"`
	Type                 TransactionType   `json:"type"`
	CreditsAmount        decimal.Decimal   `json:"creditsAmount"`
	TokenAmount          decimal.Decimal   `json:"tokenAmount"`
	BurnAmount           decimal.Decimal   `json:"burnAmount"`
	Status               TransactionStatus `json:"status"`
	PlatformSettlementID string            `json:"platformSettlementId"`
	Destination          string            `json:"destination,omitempty"`
	Source               string            `json:"source,omitempty"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	FailureReason        string            `json:"failureReason,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	CompletedAt          *time.Time        `json:"completedAt,omitempty"`
}

// MarshalJSON renders amounts fixed-point: credits at two places, tokens at eight.
func (b Balance) MarshalJSON() ([]byte, error) {
	type plain Balance
	return json.Marshal(struct {
		plain
		CreditsBalance string `json:"creditsBalance"`
		TokenAmount    string `json:"tokenAmount"`
	}{
		plain:          plain(b),
		CreditsBalance: credits(b.CreditsBalance),
		TokenAmount:    tokens(b.TokenAmount),
	})
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	return json.Marshal(struct {
		plain
		CreditsAmount string `json:"creditsAmount"`
		TokenAmount   string `json:"tokenAmount"`
		BurnAmount    string `json:"burnAmount"`
	}{
		plain:         plain(t),
		CreditsAmount: credits(t.CreditsAmount),
		TokenAmount:   tokens(t.TokenAmount),
		BurnAmount:    tokens(t.BurnAmount),
	})
}

func credits(d decimal.Decimal) string { return d.StringFixed(conversion.CreditsScale) }
func tokens(d decimal.Decimal) string { return d.StringFixed(conversion.TokenScale) }

// SignedCredits is the balance delta a completed transaction applies.
func (t *Transaction) SignedCredits() decimal.Decimal {
	if t.Type == TransactionWithdrawal {
		return t.CreditsAmount.Neg()
	}
	return t.CreditsAmount
}

// SettlementEvent is published once per newly terminal transaction.
type SettlementEvent struct {
	Transaction *Transaction    `json:"transaction"`
	Balance     decimal.Decimal `json:"creditsBalance"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

func (e SettlementEvent) MarshalJSON() ([]byte, error) {
	type plain SettlementEvent
	return json.Marshal(struct {
		plain
		Balance string `json:"creditsBalance"`
	}{plain: plain(e), Balance: credits(e.Balance)})
}

// ChainDeposit is a verified on-chain deposit emitted by the chain watcher.
type ChainDeposit struct {
	PlatformID     string          `json:"platformId"`
	PlatformUserID string          `json:"platformUserId"`
	TokenAmount    decimal.Decimal `json:"tokenAmount"`
	TxHash         string          `json:"txHash"`
}

// SettlementResult is what a ledger store returns from one atomic apply.
// Replayed is set when an earlier completed transaction already owned the
// settlement id; Transaction is then that earlier record.
type SettlementResult struct {
	Transaction *Transaction
	Balance     *Balance
	Replayed    bool
}

// ZeroBalance is the implicit balance of a user that never transacted.
func ZeroBalance(platformID, userID string) *Balance {
	return &Balance{
		PlatformID:     platformID,
		PlatformUserID: userID,
		CreditsBalance: decimal.Zero,
		TokenAmount:    decimal.Zero,
	}
}
