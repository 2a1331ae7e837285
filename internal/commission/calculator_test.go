package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/stretchr/testify/assert"
)

func newCalculator(fallback float64) *Calculator {
	cfg := config.DefaultSettlementConfig()
	cfg.FallbackCommissionPercent = fallback
	return NewCalculator(config.NewStaticSettlementConfigHolder(cfg))
}

func pct(v int64) Settings {
	return Settings{Type: TypePercentage, Value: decimal.NewFromInt(v)}
}

func TestComputeCommissionPercentage(t *testing.T) {
	calc := newCalculator(20)

	var total int64
	for _, amount := range []int64{1000, 2000, 500} {
		total += calc.ComputeCommission(amount, pct(20))
	}
	assert.Equal(t, int64(700), total)
	assert.Equal(t, int64(20), calc.ComputeCommission(100, pct(20)))
}

func TestComputeCommissionRoundsHalfAwayFromZero(t *testing.T) {
	calc := newCalculator(20)

	// 125 * 2% = 2.5
	assert.Equal(t, int64(3), calc.ComputeCommission(125, pct(2)))
	// 123 * 2% = 2.46
	assert.Equal(t, int64(2), calc.ComputeCommission(123, pct(2)))
	// 1 * 12.5% = 0.125
	assert.Equal(t, int64(0), calc.ComputeCommission(1, Settings{Type: TypePercentage, Value: decimal.RequireFromString("12.5")}))
}

func TestComputeCommissionFixedIsFlatAndCapped(t *testing.T) {
	calc := newCalculator(20)
	fixed := Settings{Type: TypeFixed, Value: decimal.NewFromInt(150)}

	assert.Equal(t, int64(150), calc.ComputeCommission(1000, fixed))
	assert.Equal(t, int64(150), calc.ComputeCommission(100000, fixed))
	assert.Equal(t, int64(80), calc.ComputeCommission(80, fixed))
}

func TestComputeCommissionFallback(t *testing.T) {
	calc := newCalculator(15)

	assert.Equal(t, int64(150), calc.ComputeCommission(1000, Settings{}))
	assert.Equal(t, int64(150), calc.ComputeCommission(1000, pct(140)))
	assert.Equal(t, int64(150), calc.ComputeCommission(1000, Settings{Type: TypeFixed, Value: decimal.NewFromInt(-5)}))

	var nilCalc *Calculator
	assert.Equal(t, int64(200), nilCalc.ComputeCommission(1000, Settings{}))
}

func TestComputeCommissionNonPositiveAmount(t *testing.T) {
	calc := newCalculator(20)
	assert.Zero(t, calc.ComputeCommission(0, pct(20)))
	assert.Zero(t, calc.ComputeCommission(-10, pct(20)))
}

func TestComputeManualFee(t *testing.T) {
	calc := newCalculator(20)

	fixed := ManualFee{Enabled: true, Type: TypeFixed, Value: decimal.NewFromInt(50)}
	assert.Equal(t, int64(50), calc.ComputeManualFee(fixed, 1000))
	assert.Equal(t, int64(30), calc.ComputeManualFee(fixed, 30))

	percent := ManualFee{Enabled: true, Type: TypePercentage, Value: decimal.RequireFromString("2.5")}
	assert.Equal(t, int64(25), calc.ComputeManualFee(percent, 1000))
	assert.Equal(t, int64(1), calc.ComputeManualFee(percent, 30))

	assert.Zero(t, calc.ComputeManualFee(ManualFee{Type: TypeFixed, Value: decimal.NewFromInt(50)}, 1000))
	assert.Zero(t, calc.ComputeManualFee(ManualFee{Enabled: true, Type: "bogus", Value: decimal.NewFromInt(5)}, 1000))
}

func TestParseTypeAndDescribe(t *testing.T) {
	typ, ok := ParseType(" Percentage ")
	assert.True(t, ok)
	assert.Equal(t, TypePercentage, typ)

	_, ok = ParseType("tiered")
	assert.False(t, ok)

	assert.Equal(t, "no fee", ManualFee{}.Describe())
	assert.Equal(t, "flat manual payout fee of 50", ManualFee{Enabled: true, Type: TypeFixed, Value: decimal.NewFromInt(50)}.Describe())
	assert.Equal(t, "2.5% manual payout fee", ManualFee{Enabled: true, Type: TypePercentage, Value: decimal.RequireFromString("2.5")}.Describe())
}
