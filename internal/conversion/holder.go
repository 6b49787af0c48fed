package conversion

import (
	"errors"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// ErrHalted is returned while the live configuration is invalid. It applies to
// every platform's settlement traffic, not a single request.
var ErrHalted = errors.New("conversion: configuration invalid, settlement halted")

type state struct {
	rates Rates
	err   error
}

// Holder keeps the live conversion configuration and swaps it atomically on reload.
type Holder struct {
	cur      atomic.Pointer[state]
	onChange func(valid bool, err error)
}

// NewHolder validates the startup configuration; an invalid one is returned as an error.
func NewHolder(r Rates, onChange func(valid bool, err error)) (*Holder, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	h := &Holder{onChange: onChange}
	h.cur.Store(&state{rates: r})
	h.notify(true, nil)
	return h, nil
}

// Update installs new rates. Invalid rates halt settlement until a valid set arrives.
func (h *Holder) Update(r Rates) error {
	err := r.Validate()
	h.cur.Store(&state{rates: r, err: err})
	h.notify(err == nil, err)
	return err
}

// Halt marks the configuration unusable (e.g. an unparsable reload).
func (h *Holder) Halt(cause error) {
	prev := h.cur.Load()
	h.cur.Store(&state{rates: prev.rates, err: cause})
	h.notify(false, cause)
}

// Rates returns the live rates, or ErrHalted wrapping the validation error.
func (h *Holder) Rates() (Rates, error) {
	s := h.cur.Load()
	if s.err != nil {
		return Rates{}, errors.Join(ErrHalted, s.err)
	}
	return s.rates, nil
}

func (h *Holder) Deposit(tokenAmount decimal.Decimal) (Result, error) {
	r, err := h.Rates()
	if err != nil {
		return Result{}, err
	}
	return Deposit(r, tokenAmount)
}

func (h *Holder) DepositFromCredits(credits decimal.Decimal) (Result, error) {
	r, err := h.Rates()
	if err != nil {
		return Result{}, err
	}
	return DepositFromCredits(r, credits)
}

func (h *Holder) Withdrawal(credits decimal.Decimal) (Result, error) {
	r, err := h.Rates()
	if err != nil {
		return Result{}, err
	}
	return Withdrawal(r, credits)
}

// TokensFor uses the last known ratio even while halted; it only feeds read-side views.
func (h *Holder) TokensFor(credits decimal.Decimal) decimal.Decimal {
	return TokensFor(h.cur.Load().rates, credits)
}

func (h *Holder) notify(valid bool, err error) {
	if h.onChange != nil {
		h.onChange(valid, err)
	}
}
