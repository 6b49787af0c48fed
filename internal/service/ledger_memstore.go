package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/repository"
	"github.com/shopspring/decimal"
)

// MemoryLedgerStore keeps the ledger in process memory. It is the store used
// when no database is configured, and in tests.
type MemoryLedgerStore struct {
	mu        sync.Mutex
	balances  map[string]*model.Balance
	txs       map[string][]*model.Transaction // newest last, per platform+user
	completed map[string]*model.Transaction   // platform+settlement id, completed only
	now       func() time.Time
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		balances:  make(map[string]*model.Balance),
		txs:       make(map[string][]*model.Transaction),
		completed: make(map[string]*model.Transaction),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryLedgerStore) GetBalance(_ context.Context, platformID, userID string) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[lockKey(platformID, userID)]; ok {
		cp := *b
		return &cp, nil
	}
	return model.ZeroBalance(platformID, userID), nil
}

func (s *MemoryLedgerStore) FindCompleted(_ context.Context, platformID, settlementID string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.completed[lockKey(platformID, settlementID)]; ok {
		return copyTx(tx), nil
	}
	return nil, repository.ErrTransactionNotFound
}

func (s *MemoryLedgerStore) Apply(_ context.Context, tx *model.Transaction, deriveTokens func(decimal.Decimal) decimal.Decimal) (*model.SettlementResult, error) {
	if tx == nil || tx.Status.Terminal() {
		return nil, errors.New("apply expects a pending transaction")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balKey := lockKey(tx.PlatformID, tx.PlatformUserID)
	bal, ok := s.balances[balKey]
	if !ok {
		bal = model.ZeroBalance(tx.PlatformID, tx.PlatformUserID)
	}

	if prev, ok := s.completed[lockKey(tx.PlatformID, tx.PlatformSettlementID)]; ok {
		cur := s.balanceFor(prev.PlatformID, prev.PlatformUserID)
		return &model.SettlementResult{Transaction: copyTx(prev), Balance: cur, Replayed: true}, nil
	}

	stored := copyTx(tx)
	next := bal.CreditsBalance.Add(stored.SignedCredits())
	if next.IsNegative() {
		stored.Status = model.StatusFailed
		stored.FailureReason = "insufficient balance"
		s.txs[balKey] = append(s.txs[balKey], stored)
		cp := *bal
		return &model.SettlementResult{Transaction: copyTx(stored), Balance: &cp}, nil
	}

	now := s.now()
	stored.Status = model.StatusCompleted
	stored.CompletedAt = &now

	updated := *bal
	updated.CreditsBalance = next
	updated.TokenAmount = deriveTokens(next)
	updated.LastTransactionAt = &now
	s.balances[balKey] = &updated
	s.txs[balKey] = append(s.txs[balKey], stored)
	s.completed[lockKey(tx.PlatformID, tx.PlatformSettlementID)] = stored

	cp := updated
	return &model.SettlementResult{Transaction: copyTx(stored), Balance: &cp}, nil
}

func (s *MemoryLedgerStore) ListTransactions(_ context.Context, platformID, userID string, limit, offset int) ([]*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.txs[lockKey(platformID, userID)]
	ordered := make([]*model.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		ordered = append(ordered, all[i])
	}
	if offset >= len(ordered) {
		return []*model.Transaction{}, nil
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	out := make([]*model.Transaction, 0, end-offset)
	for _, tx := range ordered[offset:end] {
		out = append(out, copyTx(tx))
	}
	return out, nil
}

func (s *MemoryLedgerStore) balanceFor(platformID, userID string) *model.Balance {
	if b, ok := s.balances[lockKey(platformID, userID)]; ok {
		cp := *b
		return &cp
	}
	return model.ZeroBalance(platformID, userID)
}

func copyTx(tx *model.Transaction) *model.Transaction {
	cp := *tx
	if tx.Metadata != nil {
		cp.Metadata = make(map[string]any, len(tx.Metadata))
		for k, v := range tx.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
