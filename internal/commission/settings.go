package commission

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

var hundred = decimal.NewFromInt(100)

// ParseType normalizes a stored type. Unknown values return false.
func ParseType(raw string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypePercentage:
		return TypePercentage, true
	case TypeFixed:
		return TypeFixed, true
	default:
		return "", false
	}
}

// Settings is a vendor's commission rule. Fixed values are minor units per event.
type Settings struct {
	Type  Type            `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Valid reports whether the rule can be applied without falling back.
func (s Settings) Valid() bool {
	switch s.Type {
	case TypePercentage:
		return !s.Value.IsNegative() && s.Value.LessThanOrEqual(hundred)
	case TypeFixed:
		return !s.Value.IsNegative()
	default:
		return false
	}
}

// ManualFee is the fee deducted from a vendor-initiated payout request.
type ManualFee struct {
	Enabled bool            `json:"enabled"`
	Type    Type            `json:"type"`
	Value   decimal.Decimal `json:"value"`
}

func (f ManualFee) Valid() bool {
	return Settings{Type: f.Type, Value: f.Value}.Valid()
}

// Describe renders the fee for batch notes and API output.
func (f ManualFee) Describe() string {
	if !f.Enabled {
		return "no fee"
	}
	switch f.Type {
	case TypePercentage:
		return f.Value.String() + "% manual payout fee"
	case TypeFixed:
		return "flat manual payout fee of " + f.Value.Round(0).String()
	default:
		return "no fee"
	}
}
