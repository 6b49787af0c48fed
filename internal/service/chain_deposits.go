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
	"github.com/GoPolymarket/settlegate/internal/repository"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ErrNoDeposit is returned by a DepositSource whose wait timed out empty.
var ErrNoDeposit = repository.ErrQueueEmpty

// DepositSource yields verified on-chain deposits, blocking up to its own
// poll timeout.
type DepositSource interface {
	Next(ctx context.Context) (*model.ChainDeposit, error)
}

// DepositRequeuer is implemented by sources that can take back a deposit the
// consumer stopped before recording.
type DepositRequeuer interface {
	Requeue(ctx context.Context, dep *model.ChainDeposit) error
}

// ChainDepositConsumer credits verified on-chain deposits through the ledger.
// The settlement id is derived from the tx hash, so redelivered events replay.
type ChainDepositConsumer struct {
	source   DepositSource
	ledger   *Ledger
	registry *PlatformRegistry
	backoff  time.Duration
	executor failsafe.Executor[any]
}

func NewChainDepositConsumer(source DepositSource, ledger *Ledger, registry *PlatformRegistry) *ChainDepositConsumer {
	return &ChainDepositConsumer{
		source:   source,
		ledger:   ledger,
		registry: registry,
		backoff:  time.Second,
		executor: newDepositExecutor(time.Second, time.Minute),
	}
}

// newDepositExecutor retries without limit; only a permanently bad event
// gives up. Retrying is safe because the settlement id replays.
func newDepositExecutor(base, max time.Duration) failsafe.Executor[any] {
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return retryableDeposit(err) }).
		WithBackoff(base, max).
		WithMaxRetries(-1).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			logger.Warn("retrying chain deposit", "attempt", e.Attempts(), "error", e.LastError().Error())
		}).
		Build()
	return failsafe.With[any](retry)
}

func retryableDeposit(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrValidation) &&
		!errors.Is(err, ErrPlatformNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func ChainSettlementID(txHash string) string {
	return "chain:" + strings.ToLower(strings.TrimSpace(txHash))
}

func (c *ChainDepositConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		dep, err := c.source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrNoDeposit) || ctx.Err() != nil {
				continue
			}
			logger.Warn("chain deposit source error", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		err = c.executor.WithContext(ctx).Run(func() error { return c.Handle(ctx, dep) })
		if err != nil && ctx.Err() != nil {
			c.requeue(ctx, dep)
			return
		}
	}
}

// requeue hands an unrecorded deposit back to the source on shutdown; the
// source already removed it.
func (c *ChainDepositConsumer) requeue(ctx context.Context, dep *model.ChainDeposit) {
	rq, ok := c.source.(DepositRequeuer)
	if !ok {
		logger.Error("chain deposit dropped on shutdown", "platform_id", dep.PlatformID, "tx_hash", dep.TxHash)
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := rq.Requeue(rctx, dep); err != nil {
		logger.Error("chain deposit requeue failed", "platform_id", dep.PlatformID, "tx_hash", dep.TxHash, "error", err.Error())
	}
}

// Handle records one deposit. Malformed events are logged and skipped; the
// returned error is for tests and callers that want it.
func (c *ChainDepositConsumer) Handle(ctx context.Context, dep *model.ChainDeposit) error {
	if dep == nil || dep.PlatformID == "" || dep.PlatformUserID == "" || dep.TxHash == "" || !dep.TokenAmount.IsPositive() {
		metrics.ChainDeposits.WithLabelValues("malformed").Inc()
		logger.Warn("skipping malformed chain deposit", "deposit", dep)
		return ErrValidation
	}
	if _, err := c.registry.Lookup(ctx, dep.PlatformID); err != nil {
		if errors.Is(err, ErrPlatformNotFound) {
			metrics.ChainDeposits.WithLabelValues("unknown_platform").Inc()
			logger.Warn("chain deposit for unknown platform", "platform_id", dep.PlatformID, "tx_hash", dep.TxHash)
			return err
		}
		metrics.ChainDeposits.WithLabelValues("error").Inc()
		return fmt.Errorf("lookup platform %s: %w", dep.PlatformID, err)
	}

	amount := dep.TokenAmount
	tx, err := c.ledger.RecordDeposit(ctx, dep.PlatformID, dep.PlatformUserID, DepositInput{
		TokenAmount:  &amount,
		SettlementID: ChainSettlementID(dep.TxHash),
		Metadata:     map[string]any{"txHash": dep.TxHash},
		Source:       model.SourceChain,
	})
	if err != nil {
		result := "error"
		if errors.Is(err, conversion.ErrHalted) {
			result = "halted"
		}
		metrics.ChainDeposits.WithLabelValues(result).Inc()
		logger.Error("chain deposit not recorded",
			"platform_id", dep.PlatformID,
			"user_id", dep.PlatformUserID,
			"tx_hash", dep.TxHash,
			"error", err.Error(),
		)
		return err
	}
	metrics.ChainDeposits.WithLabelValues("recorded").Inc()
	logger.Info("chain deposit recorded",
		"platform_id", tx.PlatformID,
		"user_id", tx.PlatformUserID,
		"transaction_id", tx.ID,
		"settlement_id", tx.PlatformSettlementID,
	)
	return nil
}
