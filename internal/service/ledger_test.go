package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/GoPolymarket/settlegate/internal/conversion"
	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestHolder(t *testing.T, ratio, burn string) *conversion.Holder {
	t.Helper()
	h, err := conversion.NewHolder(conversion.Rates{
		CreditsPerToken: dec(ratio),
		BurnRate:        dec(burn),
		MaxBurnRate:     dec("0.02"),
	}, nil)
	require.NoError(t, err)
	return h
}

func newTestLedger(t *testing.T) (*Ledger, *EventBus) {
	t.Helper()
	bus := NewEventBus(64)
	return NewLedger(NewMemoryLedgerStore(), newTestHolder(t, "1", "0"), bus), bus
}

func credits(t *testing.T, l *Ledger, user string) string {
	t.Helper()
	bal, err := l.GetBalance(context.Background(), "P", user)
	require.NoError(t, err)
	return bal.CreditsBalance.StringFixed(2)
}

func TestLedger_SettlementScenario(t *testing.T) {
	for _, tc := range []struct{ ratio, burn string }{
		{"1", "0"},
		{"100", "0.015"},
	} {
		t.Run("ratio="+tc.ratio+"/burn="+tc.burn, func(t *testing.T) {
			l := NewLedger(NewMemoryLedgerStore(), newTestHolder(t, tc.ratio, tc.burn), NewEventBus(64))
			runSettlementScenario(t, l)
		})
	}
}

// Credits stated by the platform are credited as-is whatever the burn rate.
func runSettlementScenario(t *testing.T, l *Ledger) {
	t.Helper()
	ctx := context.Background()

	_, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("100"), SettlementID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "100.00", credits(t, l, "U"))

	_, err = l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("50"), SettlementID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, "150.00", credits(t, l, "U"))

	w1, err := l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("30"), SettlementID: "s3"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, w1.Status)
	assert.Equal(t, model.DestinationMarketplace, w1.Destination)
	assert.Equal(t, "120.00", credits(t, l, "U"))

	w2, err := l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("30"), SettlementID: "s3"})
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID)
	assert.Equal(t, "120.00", credits(t, l, "U"))

	failed, err := l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("500"), SettlementID: "s4"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	require.NotNil(t, failed)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, "120.00", credits(t, l, "U"))

	txs, next, err := l.ListTransactions(ctx, "P", "U", 10, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, txs, 4)
	assert.Equal(t, "s4", txs[0].PlatformSettlementID)
	assert.Equal(t, "s1", txs[3].PlatformSettlementID)
}

func TestLedger_FailedSettlementIsRetryable(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("10"), SettlementID: "w1"})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("10"), SettlementID: "d1"})
	require.NoError(t, err)

	tx, err := l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("10"), SettlementID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, tx.Status)
	assert.Equal(t, "0.00", credits(t, l, "U"))
}

func TestLedger_ZeroBalanceForUnknownUser(t *testing.T) {
	l, _ := newTestLedger(t)
	bal, err := l.GetBalance(context.Background(), "P", "nobody")
	require.NoError(t, err)
	assert.True(t, bal.CreditsBalance.IsZero())
	assert.Nil(t, bal.LastTransactionAt)

	txs, _, err := l.ListTransactions(context.Background(), "P", "nobody", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLedger_BalancesAreScopedByPlatform(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("5"), SettlementID: "x"})
	require.NoError(t, err)
	// Same settlement id under another platform is a different settlement.
	_, err = l.RecordDeposit(ctx, "Q", "U", DepositInput{CreditsAmount: decPtr("7"), SettlementID: "x"})
	require.NoError(t, err)

	bal, err := l.GetBalance(ctx, "Q", "U")
	require.NoError(t, err)
	assert.Equal(t, "7.00", bal.CreditsBalance.StringFixed(2))
	assert.Equal(t, "5.00", credits(t, l, "U"))
}

func TestLedger_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	const n = 32
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("25"), SettlementID: "dup"})
			if assert.NoError(t, err) {
				ids[i] = tx.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, "25.00", credits(t, l, "U"))
	txs, _, err := l.ListTransactions(ctx, "P", "U", 100, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("100"), SettlementID: "seed"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("10"), SettlementID: fmt.Sprintf("w%d", i)})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, "0.00", credits(t, l, "U"))
	assert.Equal(t, 0, l.locks.size())
}

func TestLedger_BalanceEqualsCompletedSum(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	expected := decimal.Zero
	for i := 0; i < 200; i++ {
		amount := decimal.New(int64(rng.Intn(10_000)+1), -2)
		id := fmt.Sprintf("op-%d", i)
		if rng.Intn(2) == 0 {
			_, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: &amount, SettlementID: id})
			require.NoError(t, err)
			expected = expected.Add(amount)
		} else {
			_, err := l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: amount, SettlementID: id})
			if amount.GreaterThan(expected) {
				require.ErrorIs(t, err, ErrInsufficientBalance)
			} else {
				require.NoError(t, err)
				expected = expected.Sub(amount)
			}
		}
		bal, err := l.GetBalance(ctx, "P", "U")
		require.NoError(t, err)
		require.False(t, bal.CreditsBalance.IsNegative())
		require.True(t, expected.Equal(bal.CreditsBalance), "step %d: want %s got %s", i, expected, bal.CreditsBalance)
	}
}

func TestLedger_DepositTokensAppliesBurn(t *testing.T) {
	l := NewLedger(NewMemoryLedgerStore(), newTestHolder(t, "10", "0.015"), nil)
	tx, err := l.RecordDeposit(context.Background(), "P", "U", DepositInput{TokenAmount: decPtr("100"), SettlementID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "985.00", tx.CreditsAmount.StringFixed(2))
	assert.True(t, tx.BurnAmount.Equal(dec("1.5")))

	bal, err := l.GetBalance(context.Background(), "P", "U")
	require.NoError(t, err)
	assert.True(t, bal.TokenAmount.Equal(dec("98.5")))
}

func TestLedger_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordDeposit(ctx, "P", "U", DepositInput{SettlementID: "a"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("1"), TokenAmount: decPtr("1"), SettlementID: "a"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = l.RecordDeposit(ctx, "P", "", DepositInput{CreditsAmount: decPtr("1"), SettlementID: "a"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("-1"), SettlementID: "a"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("1"), SettlementID: ""})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("1"), SettlementID: "b", Destination: "0xnope"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLedger_HaltedConversionRefusesWritesButReplays(t *testing.T) {
	holder := newTestHolder(t, "1", "0")
	l := NewLedger(NewMemoryLedgerStore(), holder, nil)
	ctx := context.Background()

	first, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("10"), SettlementID: "s1"})
	require.NoError(t, err)

	require.Error(t, holder.Update(conversion.Rates{CreditsPerToken: dec("0"), MaxBurnRate: dec("0.02")}))

	_, err = l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("10"), SettlementID: "s2"})
	assert.True(t, errors.Is(err, conversion.ErrHalted))
	_, err = l.RecordWithdrawal(ctx, "P", "U", WithdrawalInput{CreditsAmount: dec("1"), SettlementID: "s3"})
	assert.True(t, errors.Is(err, conversion.ErrHalted))

	again, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("10"), SettlementID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestLedger_PublishesNewSettlementsOnly(t *testing.T) {
	l, bus := newTestLedger(t)
	events, cancel := bus.Subscribe()
	defer cancel()
	ctx := context.Background()

	_, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("10"), SettlementID: "s1"})
	require.NoError(t, err)
	_, err = l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("10"), SettlementID: "s1"})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, "s1", ev.Transaction.PlatformSettlementID)
	assert.Equal(t, "10.00", ev.Balance.StringFixed(2))
	select {
	case extra := <-events:
		t.Fatalf("unexpected event for replay: %+v", extra.Transaction)
	default:
	}
}

func TestLedger_ListPagination(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.RecordDeposit(ctx, "P", "U", DepositInput{CreditsAmount: decPtr("1"), SettlementID: fmt.Sprintf("s%d", i)})
		require.NoError(t, err)
	}
	page, next, err := l.ListTransactions(ctx, "P", "U", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)
	assert.Equal(t, 2, *next)
	assert.Equal(t, "s4", page[0].PlatformSettlementID)

	page, next, err = l.ListTransactions(ctx, "P", "U", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Nil(t, next)
	assert.Equal(t, "s0", page[0].PlatformSettlementID)
}

func TestNormalizeDestination(t *testing.T) {
	dest, err := NormalizeDestination("")
	require.NoError(t, err)
	assert.Equal(t, model.DestinationMarketplace, dest)

	dest, err = NormalizeDestination("0x742d35cc6634c0532925a3b844bc454e4438f44e")
	require.NoError(t, err)
	assert.Equal(t, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", dest)

	_, err = NormalizeDestination("not-an-address")
	assert.ErrorIs(t, err, ErrValidation)
}
