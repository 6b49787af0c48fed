// Package conversion maps between platform credits and token units.
//
// All functions are pure. Results are truncated (never rounded up) to the
// ledger's fixed-point scales exactly once per transaction.
package conversion

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CreditsScale int32 = 2
	TokenScale   int32 = 8
)

var (
	ErrInvalidRatio    = errors.New("conversion: credits per token must be > 0")
	ErrInvalidBurnRate = errors.New("conversion: burn rate out of range")
	ErrInvalidAmount   = errors.New("conversion: amount must be > 0")
)

// Rates is the external configuration the engine runs on.
type Rates struct {
	CreditsPerToken decimal.Decimal
	BurnRate        decimal.Decimal
	MaxBurnRate     decimal.Decimal
}

// Validate fails closed: an out-of-range burn rate is an error, never clamped.
func (r Rates) Validate() error {
	if !r.CreditsPerToken.IsPositive() {
		return ErrInvalidRatio
	}
	if r.MaxBurnRate.IsNegative() || r.MaxBurnRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: max burn rate %s", ErrInvalidBurnRate, r.MaxBurnRate)
	}
	if r.BurnRate.IsNegative() || r.BurnRate.GreaterThan(r.MaxBurnRate) {
		return fmt.Errorf("%w: %s not within [0, %s]", ErrInvalidBurnRate, r.BurnRate, r.MaxBurnRate)
	}
	return nil
}

// ParseRates builds Rates from their decimal string form.
func ParseRates(creditsPerToken, burnRate, maxBurnRate string) (Rates, error) {
	ratio, err := decimal.NewFromString(creditsPerToken)
	if err != nil {
		return Rates{}, fmt.Errorf("conversion: credits per token %q: %w", creditsPerToken, err)
	}
	burn, err := decimal.NewFromString(burnRate)
	if err != nil {
		return Rates{}, fmt.Errorf("conversion: burn rate %q: %w", burnRate, err)
	}
	maxBurn, err := decimal.NewFromString(maxBurnRate)
	if err != nil {
		return Rates{}, fmt.Errorf("conversion: max burn rate %q: %w", maxBurnRate, err)
	}
	r := Rates{CreditsPerToken: ratio, BurnRate: burn, MaxBurnRate: maxBurn}
	return r, r.Validate()
}

// Result is the outcome of converting one transaction.
type Result struct {
	CreditsAmount decimal.Decimal
	TokenAmount   decimal.Decimal
	BurnAmount    decimal.Decimal
}

// Deposit converts a gross token amount:
//
//	credits = tokens × (1 − burnRate) × ratio
//	burn    = tokens × burnRate
func Deposit(r Rates, tokenAmount decimal.Decimal) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	if !tokenAmount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	one := decimal.NewFromInt(1)
	tokens := tokenAmount.Truncate(TokenScale)
	credits := tokens.Mul(one.Sub(r.BurnRate)).Mul(r.CreditsPerToken).Truncate(CreditsScale)
	burn := tokens.Mul(r.BurnRate).Truncate(TokenScale)
	return Result{CreditsAmount: credits, TokenAmount: tokens, BurnAmount: burn}, nil
}

// DepositFromCredits handles deposits quoted in credits. The stated credits
// are what the user receives; the gross token amount is derived so that the
// burn comes on top:
//
//	tokens  = credits / ((1 − burnRate) × ratio)
//	burn    = tokens × burnRate
func DepositFromCredits(r Rates, creditsAmount decimal.Decimal) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	if !creditsAmount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	net := decimal.NewFromInt(1).Sub(r.BurnRate)
	if !net.IsPositive() {
		return Result{}, fmt.Errorf("%w: burn rate %s leaves nothing to credit", ErrInvalidBurnRate, r.BurnRate)
	}
	credits := creditsAmount.Truncate(CreditsScale)
	tokens := divTruncate(credits, net.Mul(r.CreditsPerToken), TokenScale)
	burn := tokens.Mul(r.BurnRate).Truncate(TokenScale)
	return Result{CreditsAmount: credits, TokenAmount: tokens, BurnAmount: burn}, nil
}

// Withdrawal converts credits to tokens. No burn applies on withdrawal.
func Withdrawal(r Rates, creditsAmount decimal.Decimal) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	if !creditsAmount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	credits := creditsAmount.Truncate(CreditsScale)
	return Result{
		CreditsAmount: credits,
		TokenAmount:   divTruncate(credits, r.CreditsPerToken, TokenScale),
		BurnAmount:    decimal.Zero,
	}, nil
}

// TokensFor derives the token equivalent of a credits balance.
func TokensFor(r Rates, credits decimal.Decimal) decimal.Decimal {
	if !r.CreditsPerToken.IsPositive() {
		return decimal.Zero
	}
	return divTruncate(credits, r.CreditsPerToken, TokenScale)
}

// divTruncate divides with enough guard digits that truncation is exact at scale.
func divTruncate(a, b decimal.Decimal, scale int32) decimal.Decimal {
	return a.DivRound(b, scale+8).Truncate(scale)
}
