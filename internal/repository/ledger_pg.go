package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type balanceRow struct {
	PlatformID        string          `gorm:"primaryKey;type:text"`
	PlatformUserID    string          `gorm:"primaryKey;type:text"`
	CreditsBalance    decimal.Decimal `gorm:"type:numeric(38,2);not null"`
	TokenAmount       decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	LastTransactionAt *time.Time
	UpdatedAt         time.Time
}

func (balanceRow) TableName() string { return "balances" }

func (b *balanceRow) toDomain() *model.Balance {
	return &model.Balance{
		PlatformID:        b.PlatformID,
		PlatformUserID:    b.PlatformUserID,
		CreditsBalance:    b.CreditsBalance,
		TokenAmount:       b.TokenAmount,
		LastTransactionAt: b.LastTransactionAt,
	}
}

type transactionRow struct {
	ID                   string          `gorm:"primaryKey;type:uuid"`
	PlatformID           string          `gorm:"type:text;not null;index:idx_settlement_tx_user,priority:1"`
	PlatformUserID       string          `gorm:"type:text;not null;index:idx_settlement_tx_user,priority:2"`
	Type                 string          `gorm:"type:text;not null"`
	CreditsAmount        decimal.Decimal `gorm:"type:numeric(38,2);not null"`
	TokenAmount          decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	BurnAmount           decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	Status               string          `gorm:"type:text;not null"`
	PlatformSettlementID string          `gorm:"type:text;not null"`
	Destination          string          `gorm:"type:text"`
	Source               string          `gorm:"type:text"`
	Metadata             string          `gorm:"type:jsonb"`
	FailureReason        string          `gorm:"type:text"`
	CreatedAt            time.Time       `gorm:"not null;index:idx_settlement_tx_user,priority:3,sort:desc"`
	CompletedAt          *time.Time
}

func (transactionRow) TableName() string { return "settlement_transactions" }

func (t *transactionRow) toDomain() *model.Transaction {
	tx := &model.Transaction{
		ID:                   t.ID,
		PlatformID:           t.PlatformID,
		PlatformUserID:       t.PlatformUserID,
		Type:                 model.TransactionType(t.Type),
		CreditsAmount:        t.CreditsAmount,
		TokenAmount:          t.TokenAmount,
		BurnAmount:           t.BurnAmount,
		Status:               model.TransactionStatus(t.Status),
		PlatformSettlementID: t.PlatformSettlementID,
		Destination:          t.Destination,
		Source:               t.Source,
		FailureReason:        t.FailureReason,
		CreatedAt:            t.CreatedAt,
		CompletedAt:          t.CompletedAt,
	}
	if t.Metadata != "" && t.Metadata != "null" {
		if err := json.Unmarshal([]byte(t.Metadata), &tx.Metadata); err != nil {
			// the ledger row stays readable; only the metadata is lost
			tx.Metadata = nil
			logger.Error("undecodable settlement metadata",
				"transaction_id", t.ID,
				"platform_id", t.PlatformID,
				"error", err.Error(),
			)
		}
	}
	return tx
}

func transactionRowFrom(tx *model.Transaction) (*transactionRow, error) {
	meta := "{}"
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return nil, err
		}
		meta = string(raw)
	}
	return &transactionRow{
		ID:                   tx.ID,
		PlatformID:           tx.PlatformID,
		PlatformUserID:       tx.PlatformUserID,
		Type:                 string(tx.Type),
		CreditsAmount:        tx.CreditsAmount,
		TokenAmount:          tx.TokenAmount,
		BurnAmount:           tx.BurnAmount,
		Status:               string(tx.Status),
		PlatformSettlementID: tx.PlatformSettlementID,
		Destination:          tx.Destination,
		Source:               tx.Source,
		Metadata:             meta,
		FailureReason:        tx.FailureReason,
		CreatedAt:            tx.CreatedAt,
		CompletedAt:          tx.CompletedAt,
	}, nil
}

// errSettlementTaken aborts a DB transaction whose completed insert lost the
// race on the partial unique index.
var errSettlementTaken = errors.New("settlement id taken by a concurrent writer")

// PostgresLedgerStore keeps balances and settlement transactions in postgres.
// Apply runs in one DB transaction holding the balance row lock; the partial
// unique index on completed (platform_id, platform_settlement_id) is the last
// line against duplicate settlements across instances.
type PostgresLedgerStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPostgresLedgerStore(db *gorm.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresLedgerStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&balanceRow{}, &transactionRow{}); err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_settlement_completed
		ON settlement_transactions (platform_id, platform_settlement_id)
		WHERE status = 'completed'`).Error
}

func (s *PostgresLedgerStore) GetBalance(ctx context.Context, platformID, userID string) (*model.Balance, error) {
	var row balanceRow
	err := s.db.WithContext(ctx).
		Where("platform_id = ? AND platform_user_id = ?", platformID, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ZeroBalance(platformID, userID), nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *PostgresLedgerStore) FindCompleted(ctx context.Context, platformID, settlementID string) (*model.Transaction, error) {
	return findCompleted(s.db.WithContext(ctx), platformID, settlementID)
}

func findCompleted(db *gorm.DB, platformID, settlementID string) (*model.Transaction, error) {
	var row transactionRow
	err := db.Where("platform_id = ? AND platform_settlement_id = ? AND status = ?",
		platformID, settlementID, string(model.StatusCompleted)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *PostgresLedgerStore) Apply(ctx context.Context, tx *model.Transaction, deriveTokens func(decimal.Decimal) decimal.Decimal) (*model.SettlementResult, error) {
	if tx == nil || tx.Status.Terminal() {
		return nil, errors.New("apply expects a pending transaction")
	}
	row, err := transactionRowFrom(tx)
	if err != nil {
		return nil, err
	}

	var result *model.SettlementResult
	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		seed := balanceRow{
			PlatformID:     tx.PlatformID,
			PlatformUserID: tx.PlatformUserID,
			CreditsBalance: decimal.Zero,
			TokenAmount:    decimal.Zero,
			UpdatedAt:      s.now(),
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		var bal balanceRow
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("platform_id = ? AND platform_user_id = ?", tx.PlatformID, tx.PlatformUserID).
			Take(&bal).Error; err != nil {
			return err
		}

		if prev, err := findCompleted(db, tx.PlatformID, tx.PlatformSettlementID); err == nil {
			result, err = s.replayResult(db, prev)
			return err
		} else if !errors.Is(err, ErrTransactionNotFound) {
			return err
		}

		next := bal.CreditsBalance.Add(tx.SignedCredits())
		if next.IsNegative() {
			row.Status = string(model.StatusFailed)
			row.FailureReason = "insufficient balance"
			if err := db.Create(row).Error; err != nil {
				return err
			}
			result = &model.SettlementResult{Transaction: row.toDomain(), Balance: bal.toDomain()}
			return nil
		}

		now := s.now()
		row.Status = string(model.StatusCompleted)
		row.CompletedAt = &now
		ins := db.Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "platform_id"}, {Name: "platform_settlement_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'completed'"}}},
			DoNothing:   true,
		}).Create(row)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return errSettlementTaken
		}

		bal.CreditsBalance = next
		bal.TokenAmount = deriveTokens(next)
		bal.LastTransactionAt = &now
		bal.UpdatedAt = now
		if err := db.Model(&balanceRow{}).
			Where("platform_id = ? AND platform_user_id = ?", bal.PlatformID, bal.PlatformUserID).
			Updates(map[string]interface{}{
				"credits_balance":     bal.CreditsBalance,
				"token_amount":        bal.TokenAmount,
				"last_transaction_at": bal.LastTransactionAt,
				"updated_at":          bal.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		result = &model.SettlementResult{Transaction: row.toDomain(), Balance: bal.toDomain()}
		return nil
	})
	if errors.Is(err, errSettlementTaken) || errors.Is(err, gorm.ErrDuplicatedKey) {
		prev, ferr := s.FindCompleted(ctx, tx.PlatformID, tx.PlatformSettlementID)
		if ferr != nil {
			return nil, ferr
		}
		return s.replayResult(s.db.WithContext(ctx), prev)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresLedgerStore) replayResult(db *gorm.DB, prev *model.Transaction) (*model.SettlementResult, error) {
	var bal balanceRow
	err := db.Where("platform_id = ? AND platform_user_id = ?", prev.PlatformID, prev.PlatformUserID).Take(&bal).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	b := model.ZeroBalance(prev.PlatformID, prev.PlatformUserID)
	if err == nil {
		b = bal.toDomain()
	}
	return &model.SettlementResult{Transaction: prev, Balance: b, Replayed: true}, nil
}

func (s *PostgresLedgerStore) ListTransactions(ctx context.Context, platformID, userID string, limit, offset int) ([]*model.Transaction, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where("platform_id = ? AND platform_user_id = ?", platformID, userID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
