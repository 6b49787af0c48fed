package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositRequest is the POST /deposits body. Exactly one of CreditsAmount and
// TokenAmount must be set.
type DepositRequest struct {
	PlatformUserID       string           `json:"platformUserId" binding:"required"`
	CreditsAmount        *decimal.Decimal `json:"creditsAmount,omitempty"`
	TokenAmount          *decimal.Decimal `json:"tokenAmount,omitempty"`
	PlatformSettlementID string           `json:"platformSettlementId" binding:"required"`
	Metadata             map[string]any   `json:"metadata,omitempty"`
}

// WithdrawalRequest is the POST /withdrawals body.
type WithdrawalRequest struct {
	PlatformUserID       string           `json:"platformUserId" binding:"required"`
	CreditsAmount        *decimal.Decimal `json:"creditsAmount" binding:"required"`
	Destination          string           `json:"destination,omitempty"`
	PlatformSettlementID string           `json:"platformSettlementId" binding:"required"`
}

type TransactionList struct {
	Transactions []*Transaction `json:"transactions"`
	NextOffset   *int           `json:"nextOffset,omitempty"`
}

// PlatformView is the admin representation of a platform; the secret is masked.
type PlatformView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Secret     string    `json:"secret"`
	Active     bool      `json:"active"`
	Public     bool      `json:"public"`
	RateBudget int       `json:"rateBudget"`
	WebhookURL string    `json:"webhookUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func NewPlatformView(p *Platform) *PlatformView {
	if p == nil {
		return nil
	}
	return &PlatformView{
		ID:         p.ID,
		Name:       p.Name,
		Secret:     MaskSecret(p.Secret),
		Active:     p.Active,
		Public:     p.Public,
		RateBudget: p.RateBudget,
		WebhookURL: p.WebhookURL,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// PlatformSecretView is returned exactly once, on create and on rotation.
type PlatformSecretView struct {
	*PlatformView
	PlainSecret string `json:"plainSecret"`
}
