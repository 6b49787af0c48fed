package conversion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func rates(ratio, burn string) Rates {
	return Rates{CreditsPerToken: d(ratio), BurnRate: d(burn), MaxBurnRate: d("0.02")}
}

func TestDepositAppliesBurn(t *testing.T) {
	res, err := Deposit(rates("10", "0.015"), d("100"))
	require.NoError(t, err)

	assert.True(t, res.CreditsAmount.Equal(d("985")), "credits = T*(1-b)*r, got %s", res.CreditsAmount)
	assert.True(t, res.BurnAmount.Equal(d("1.5")), "burn = T*b, got %s", res.BurnAmount)
	assert.True(t, res.TokenAmount.Equal(d("100")))
}

func TestDepositTruncatesNeverRoundsUp(t *testing.T) {
	res, err := Deposit(rates("3", "0"), d("0.333333339"))
	require.NoError(t, err)

	assert.Equal(t, "0.33333333", res.TokenAmount.String())
	assert.Equal(t, "0.99", res.CreditsAmount.String())
}

func TestDepositFromCredits(t *testing.T) {
	res, err := DepositFromCredits(rates("4", "0.02"), d("100"))
	require.NoError(t, err)

	assert.Equal(t, "100", res.CreditsAmount.String(), "stated credits are credited in full")
	assert.Equal(t, "25.51020408", res.TokenAmount.String())
	assert.Equal(t, "0.51020408", res.BurnAmount.String())

	// the gross tokens never convert to more than was credited
	back, err := Deposit(rates("4", "0.02"), res.TokenAmount)
	require.NoError(t, err)
	assert.True(t, back.CreditsAmount.LessThanOrEqual(res.CreditsAmount))
}

func TestDepositFromCreditsWithoutBurn(t *testing.T) {
	res, err := DepositFromCredits(rates("4", "0"), d("100"))
	require.NoError(t, err)

	assert.True(t, res.CreditsAmount.Equal(d("100")))
	assert.True(t, res.TokenAmount.Equal(d("25")))
	assert.True(t, res.BurnAmount.IsZero())
}

func TestDepositFromCreditsFullBurn(t *testing.T) {
	r := Rates{CreditsPerToken: d("1"), BurnRate: d("1"), MaxBurnRate: d("1")}
	_, err := DepositFromCredits(r, d("10"))
	assert.ErrorIs(t, err, ErrInvalidBurnRate)
}

func TestWithdrawalHasNoBurn(t *testing.T) {
	res, err := Withdrawal(rates("3", "0.02"), d("10"))
	require.NoError(t, err)

	assert.True(t, res.CreditsAmount.Equal(d("10")))
	assert.Equal(t, "3.33333333", res.TokenAmount.String())
	assert.True(t, res.BurnAmount.IsZero())
}

func TestRatesValidateFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		rates Rates
		want  error
	}{
		{"zero ratio", rates("0", "0"), ErrInvalidRatio},
		{"negative ratio", rates("-1", "0"), ErrInvalidRatio},
		{"burn above max", rates("1", "0.03"), ErrInvalidBurnRate},
		{"negative burn", rates("1", "-0.01"), ErrInvalidBurnRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.rates.Validate(), tt.want)
			_, err := Deposit(tt.rates, d("1"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.NoError(t, rates("1", "0.02").Validate())
}

func TestNonPositiveAmountRejected(t *testing.T) {
	_, err := Deposit(rates("1", "0"), d("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Withdrawal(rates("1", "0"), d("-5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseRates(t *testing.T) {
	r, err := ParseRates("100", "0.01", "0.02")
	require.NoError(t, err)
	assert.True(t, r.CreditsPerToken.Equal(d("100")))

	_, err = ParseRates("abc", "0", "0.02")
	assert.Error(t, err)
	_, err = ParseRates("1", "0.05", "0.02")
	assert.ErrorIs(t, err, ErrInvalidBurnRate)
}
