package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/commission"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusSuspended Status = "suspended"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	case StatusSuspended:
		return StatusSuspended, true
	default:
		return "", false
	}
}

// Vendor is a space owner paid out by the settlement engine. Settings are stored
// as flat columns and resolved into Settings when the row is loaded.
type Vendor struct {
	ID       snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name     string       `gorm:"not null" json:"name"`
	Status   Status       `gorm:"type:text;not null;index" json:"status"`
	IsActive bool         `gorm:"not null" json:"is_active"`

	CommissionType  string              `gorm:"type:text" json:"-"`
	CommissionValue decimal.NullDecimal `gorm:"type:numeric" json:"-"`

	AutoPayoutEnabled   bool       `gorm:"not null" json:"-"`
	PayoutFrequencyDays int        `gorm:"not null" json:"-"`
	LastAutoPayoutAt    *time.Time `json:"-"`
	NextAutoPayoutAt    *time.Time `gorm:"index" json:"-"`
	PerCabinPayout      bool       `gorm:"not null" json:"-"`
	MinimumPayoutAmount int64      `gorm:"not null" json:"-"`

	ManualFeeEnabled bool                `gorm:"not null" json:"-"`
	ManualFeeType    string              `gorm:"type:text" json:"-"`
	ManualFeeValue   decimal.NullDecimal `gorm:"type:numeric" json:"-"`

	PendingPayoutBalance int64             `gorm:"not null" json:"pending_payout_balance"`
	BankDetails          datatypes.JSONMap `gorm:"type:jsonb" json:"-"`
	CreatedAt            time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time         `gorm:"not null" json:"updated_at"`

	Settings Settings `gorm:"-" json:"settings"`
}

// Settings is the typed view of a vendor's payout configuration.
type Settings struct {
	Commission commission.Settings `json:"commission"`
	AutoPayout AutoPayoutSettings  `json:"auto_payout"`
}

type AutoPayoutSettings struct {
	Enabled             bool                 `json:"enabled"`
	FrequencyDays       int                  `json:"frequency_days"`
	LastRun             *time.Time           `json:"last_run,omitempty"`
	NextRun             *time.Time           `json:"next_run,omitempty"`
	PerCabinPayout      bool                 `json:"per_cabin_payout"`
	MinimumPayoutAmount int64                `json:"minimum_payout_amount"`
	ManualFee           commission.ManualFee `json:"manual_fee"`
}

// Frequency returns the payout interval, using defaultDays when unset.
func (s AutoPayoutSettings) Frequency(defaultDays int) time.Duration {
	days := s.FrequencyDays
	if days <= 0 {
		days = defaultDays
	}
	if days <= 0 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

// Resolve fills Settings from the stored columns. An unknown commission type
// leaves the rule invalid so the calculator applies the platform fallback.
func (v *Vendor) Resolve() {
	if v == nil {
		return
	}

	var rule commission.Settings
	if typ, ok := commission.ParseType(v.CommissionType); ok && v.CommissionValue.Valid {
		rule = commission.Settings{Type: typ, Value: v.CommissionValue.Decimal}
	}

	fee := commission.ManualFee{Enabled: v.ManualFeeEnabled}
	if typ, ok := commission.ParseType(v.ManualFeeType); ok && v.ManualFeeValue.Valid {
		fee.Type = typ
		fee.Value = v.ManualFeeValue.Decimal
	} else {
		fee.Enabled = false
	}

	minimum := v.MinimumPayoutAmount
	if minimum < 0 {
		minimum = 0
	}

	v.Settings = Settings{
		Commission: rule,
		AutoPayout: AutoPayoutSettings{
			Enabled:             v.AutoPayoutEnabled,
			FrequencyDays:       v.PayoutFrequencyDays,
			LastRun:             v.LastAutoPayoutAt,
			NextRun:             v.NextAutoPayoutAt,
			PerCabinPayout:      v.PerCabinPayout,
			MinimumPayoutAmount: minimum,
			ManualFee:           fee,
		},
	}
}

func (v Vendor) CommissionSettings() commission.Settings { return v.Settings.Commission }

func (v Vendor) AutoPayoutSettings() AutoPayoutSettings { return v.Settings.AutoPayout }

func (v Vendor) ManualFee() commission.ManualFee { return v.Settings.AutoPayout.ManualFee }

// Eligible reports whether the vendor may be settled at all.
func (v Vendor) Eligible() bool {
	return v.Status == StatusApproved && v.IsActive
}

func (Vendor) TableName() string { return "vendors" }

// Cabin is a bookable space. Its owner receives the revenue it earns.
type Cabin struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	VendorID  snowflake.ID `gorm:"not null;index" json:"vendor_id"`
	Name      string       `gorm:"not null" json:"name"`
	IsActive  bool         `gorm:"not null" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Cabin) TableName() string { return "cabins" }
