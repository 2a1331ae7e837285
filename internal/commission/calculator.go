package commission

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/config"
)

// Calculator applies commission and manual fee rules. It has no side effects.
type Calculator struct {
	holder *config.SettlementConfigHolder
}

func NewCalculator(holder *config.SettlementConfigHolder) *Calculator {
	return &Calculator{holder: holder}
}

// FallbackSettings is the platform rule applied when a vendor rule is missing or invalid.
func (c *Calculator) FallbackSettings() Settings {
	percent := config.DefaultSettlementConfig().FallbackCommissionPercent
	if c != nil {
		percent = c.holder.Get().FallbackCommissionPercent
	}
	return Settings{Type: TypePercentage, Value: decimal.NewFromFloat(percent)}
}

// ComputeCommission returns the platform share of amount in minor units.
// Percentages round half away from zero. Fixed rules apply once per event and
// never exceed amount.
func (c *Calculator) ComputeCommission(amount int64, settings Settings) int64 {
	if amount <= 0 {
		return 0
	}
	if !settings.Valid() {
		settings = c.FallbackSettings()
	}

	var commission int64
	switch settings.Type {
	case TypeFixed:
		commission = settings.Value.Round(0).IntPart()
	default:
		commission = percentOf(amount, settings.Value)
	}
	return clamp(commission, amount)
}

// ComputeManualFee returns the fee for a manual request, capped at requested.
func (c *Calculator) ComputeManualFee(fee ManualFee, requested int64) int64 {
	if !fee.Enabled || requested <= 0 || !fee.Valid() {
		return 0
	}

	var amount int64
	switch fee.Type {
	case TypePercentage:
		amount = percentOf(requested, fee.Value)
	case TypeFixed:
		amount = fee.Value.Round(0).IntPart()
	}
	return clamp(amount, requested)
}

func percentOf(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}

func clamp(value, ceiling int64) int64 {
	if value < 0 {
		return 0
	}
	if value > ceiling {
		return ceiling
	}
	return value
}
