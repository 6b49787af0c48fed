package model

import (
	"strings"
	"time"
)

// Platform is an external tenant integrating with the ledger.
type Platform struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"-"` // shared HMAC secret; never serialized
	Active bool   `json:"active"`
	Public bool   `json:"public"`
	// Requests allowed per origin per rate window. <= 0 blocks all traffic.
	RateBudget int       `json:"rateBudget"`
	WebhookURL string    `json:"webhookUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Clone returns a copy safe to hand out of the registry cache.
func (p *Platform) Clone() *Platform {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// RateLimitEnabled reports whether an operator has set a usable budget.
func (p *Platform) RateLimitEnabled() bool {
	return p != nil && p.RateBudget > 0
}

// MaskSecret renders a secret for display: first and last four characters only.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
