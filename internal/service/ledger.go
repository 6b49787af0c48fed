package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GoPolymarket/settlegate/internal/conversion"
	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// LedgerStore persists balances and transactions.
//
// Apply must run as one atomic unit: the idempotency lookup, the balance
// check and the balance/transaction writes. When a completed transaction for
// (PlatformID, PlatformSettlementID) already exists it returns that record with
// Replayed set and writes nothing. When the balance would go negative it
// stores tx as failed and leaves the balance untouched.
type LedgerStore interface {
	GetBalance(ctx context.Context, platformID, userID string) (*model.Balance, error)
	FindCompleted(ctx context.Context, platformID, settlementID string) (*model.Transaction, error)
	Apply(ctx context.Context, tx *model.Transaction, deriveTokens func(decimal.Decimal) decimal.Decimal) (*model.SettlementResult, error)
	ListTransactions(ctx context.Context, platformID, userID string, limit, offset int) ([]*model.Transaction, error)
}

type DepositInput struct {
	// Exactly one of CreditsAmount and TokenAmount.
	CreditsAmount *decimal.Decimal
	TokenAmount   *decimal.Decimal
	SettlementID  string
	Metadata      map[string]any
	Source        string
}

type WithdrawalInput struct {
	CreditsAmount decimal.Decimal
	Destination   string
	SettlementID  string
	Metadata      map[string]any
}

// Ledger applies deposits and withdrawals. Writes for one (platform, user)
// pair are serialized in-process; stores add their own storage-level guard.
type Ledger struct {
	store LedgerStore
	rates *conversion.Holder
	bus   *EventBus
	locks *keyedMutex
	now   func() time.Time
}

func NewLedger(store LedgerStore, rates *conversion.Holder, bus *EventBus) *Ledger {
	return &Ledger{
		store: store,
		rates: rates,
		bus:   bus,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GetBalance never mutates; a user that never transacted has a zero balance.
func (l *Ledger) GetBalance(ctx context.Context, platformID, userID string) (*model.Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	bal, err := l.store.GetBalance(ctx, platformID, userID)
	if err != nil {
		return nil, err
	}
	bal.TokenAmount = l.rates.TokensFor(bal.CreditsBalance)
	return bal, nil
}

func (l *Ledger) RecordDeposit(ctx context.Context, platformID, userID string, in DepositInput) (*model.Transaction, error) {
	if err := validateIDs(userID, in.SettlementID); err != nil {
		return nil, err
	}
	if (in.CreditsAmount == nil) == (in.TokenAmount == nil) {
		return nil, fmt.Errorf("%w: exactly one of creditsAmount and tokenAmount is required", ErrValidation)
	}

	unlock := l.locks.Lock(lockKey(platformID, userID))
	defer unlock()

	if tx, ok, err := l.replay(ctx, platformID, in.SettlementID); ok || err != nil {
		return tx, err
	}

	var (
		res conversion.Result
		err error
	)
	if in.TokenAmount != nil {
		res, err = l.rates.Deposit(*in.TokenAmount)
	} else {
		res, err = l.rates.DepositFromCredits(*in.CreditsAmount)
	}
	if err != nil {
		return nil, conversionError(err)
	}

	source := in.Source
	if source == "" {
		source = model.SourceAPI
	}
	tx := l.newTransaction(platformID, userID, model.TransactionDeposit, in.SettlementID, in.Metadata)
	tx.CreditsAmount = res.CreditsAmount
	tx.TokenAmount = res.TokenAmount
	tx.BurnAmount = res.BurnAmount
	tx.Source = source

	return l.apply(ctx, tx)
}

func (l *Ledger) RecordWithdrawal(ctx context.Context, platformID, userID string, in WithdrawalInput) (*model.Transaction, error) {
	if err := validateIDs(userID, in.SettlementID); err != nil {
		return nil, err
	}
	destination, err := NormalizeDestination(in.Destination)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(lockKey(platformID, userID))
	defer unlock()

	if tx, ok, err := l.replay(ctx, platformID, in.SettlementID); ok || err != nil {
		return tx, err
	}

	res, err := l.rates.Withdrawal(in.CreditsAmount)
	if err != nil {
		return nil, conversionError(err)
	}

	tx := l.newTransaction(platformID, userID, model.TransactionWithdrawal, in.SettlementID, in.Metadata)
	tx.CreditsAmount = res.CreditsAmount
	tx.TokenAmount = res.TokenAmount
	tx.BurnAmount = decimal.Zero
	tx.Destination = destination
	tx.Source = model.SourceAPI

	return l.apply(ctx, tx)
}

// ListTransactions returns the page newest first and the offset of the next
// page, if there is one.
func (l *Ledger) ListTransactions(ctx context.Context, platformID, userID string, limit, offset int) ([]*model.Transaction, *int, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := l.store.ListTransactions(ctx, platformID, userID, limit+1, offset)
	if err != nil {
		return nil, nil, err
	}
	if len(txs) > limit {
		next := offset + limit
		return txs[:limit], &next, nil
	}
	return txs, nil, nil
}

// NormalizeDestination maps "" to the marketplace sentinel and wallet
// addresses to their checksummed form.
func NormalizeDestination(dest string) (string, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" || strings.EqualFold(dest, model.DestinationMarketplace) {
		return model.DestinationMarketplace, nil
	}
	if !common.IsHexAddress(dest) {
		return "", fmt.Errorf("%w: destination must be a wallet address or %q", ErrValidation, model.DestinationMarketplace)
	}
	return common.HexToAddress(dest).Hex(), nil
}

func (l *Ledger) replay(ctx context.Context, platformID, settlementID string) (*model.Transaction, bool, error) {
	tx, err := l.store.FindCompleted(ctx, platformID, settlementID)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	metrics.SettlementReplays.WithLabelValues(string(tx.Type)).Inc()
	return tx, true, nil
}

func (l *Ledger) apply(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	res, err := l.store.Apply(ctx, tx, l.rates.TokensFor)
	if err != nil {
		return nil, fmt.Errorf("apply %s %s: %w", tx.Type, tx.PlatformSettlementID, err)
	}
	if res.Replayed {
		metrics.SettlementReplays.WithLabelValues(string(res.Transaction.Type)).Inc()
		return res.Transaction, nil
	}

	out := res.Transaction
	metrics.SettlementsTotal.WithLabelValues(string(out.Type), string(out.Status)).Inc()
	l.bus.Publish(&model.SettlementEvent{
		Transaction: out,
		Balance:     res.Balance.CreditsBalance,
		OccurredAt:  l.now(),
	})

	if out.Status == model.StatusFailed {
		logger.Info("settlement failed",
			"platform_id", out.PlatformID,
			"user_id", out.PlatformUserID,
			"settlement_id", out.PlatformSettlementID,
			"reason", out.FailureReason,
		)
		return out, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientBalance, out.CreditsAmount.StringFixed(conversion.CreditsScale),
			res.Balance.CreditsBalance.StringFixed(conversion.CreditsScale))
	}
	return out, nil
}

func (l *Ledger) newTransaction(platformID, userID string, typ model.TransactionType, settlementID string, meta map[string]any) *model.Transaction {
	return &model.Transaction{
		ID:                   uuid.NewString(),
		PlatformID:           platformID,
		PlatformUserID:       userID,
		Type:                 typ,
		Status:               model.StatusPending,
		PlatformSettlementID: settlementID,
		Metadata:             meta,
		CreatedAt:            l.now(),
	}
}

func validateIDs(userID, settlementID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: platformUserId is required", ErrValidation)
	}
	if strings.TrimSpace(settlementID) == "" {
		return fmt.Errorf("%w: platformSettlementId is required", ErrValidation)
	}
	return nil
}

// conversionError keeps ErrHalted distinct; everything else is a bad request.
func conversionError(err error) error {
	if errors.Is(err, conversion.ErrHalted) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func lockKey(platformID, userID string) string {
	return platformID + "\x00" + userID
}
