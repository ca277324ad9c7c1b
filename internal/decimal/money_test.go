package decimal_test

import (
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rezonia/sdi-gateway/internal/decimal"
)

func TestMustFromString(t *testing.T) {
	d := decimal.MustFromString("999.99")
	assert.True(t, d.Equal(dec.RequireFromString("999.99")))

	assert.Panics(t, func() {
		decimal.MustFromString("invalid")
	})
}

func TestMul(t *testing.T) {
	result := decimal.Mul(dec.RequireFromString("3"), dec.RequireFromString("33.333"))
	assert.True(t, result.Equal(dec.RequireFromString("100.00")),
		"got %s", result.String())
}

func TestCalculateVAT(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		rate     string
		expected string
	}{
		{"22% of 100.00", "100.00", "22", "22.00"},
		{"10% of 55.55", "55.55", "10", "5.56"},
		{"4% of 12.50", "12.50", "4", "0.50"},
		{"0% exempt", "100.00", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := decimal.CalculateVAT(
				dec.RequireFromString(tt.amount),
				dec.RequireFromString(tt.rate),
			)
			assert.True(t, result.Equal(dec.RequireFromString(tt.expected)),
				"amount=%s rate=%s%%: got %s, want %s",
				tt.amount, tt.rate, result.String(), tt.expected)
		})
	}
}

func TestSum(t *testing.T) {
	values := []dec.Decimal{
		dec.RequireFromString("100.10"),
		dec.RequireFromString("200.20"),
		dec.RequireFromString("300.30"),
	}
	result := decimal.Sum(values)
	assert.True(t, result.Equal(dec.RequireFromString("600.60")))
}

func TestSum_Empty(t *testing.T) {
	result := decimal.Sum([]dec.Decimal{})
	assert.True(t, result.IsZero())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "122.00", decimal.Format(dec.RequireFromString("122")))
	assert.Equal(t, "0.50", decimal.Format(dec.RequireFromString("0.5")))
}
