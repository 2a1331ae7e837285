package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UpsertVendorRequest carries a vendor profile pushed by the marketplace.
type UpsertVendorRequest struct {
	ID                  string         `json:"-"`
	Name                string         `json:"name"`
	Status              string         `json:"status"`
	IsActive            bool           `json:"is_active"`
	CommissionType      string         `json:"commission_type"`
	CommissionValue     *string        `json:"commission_value"`
	AutoPayoutEnabled   bool           `json:"auto_payout_enabled"`
	PayoutFrequencyDays int            `json:"payout_frequency_days"`
	NextAutoPayoutAt    *time.Time     `json:"next_auto_payout_at"`
	PerCabinPayout      bool           `json:"per_cabin_payout"`
	MinimumPayoutAmount int64          `json:"minimum_payout_amount"`
	ManualFeeEnabled    bool           `json:"manual_fee_enabled"`
	ManualFeeType       string         `json:"manual_fee_type"`
	ManualFeeValue      *string        `json:"manual_fee_value"`
	BankDetails         map[string]any `json:"bank_details"`
}

type UpsertCabinRequest struct {
	ID       string `json:"-"`
	VendorID string `json:"vendor_id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type Service interface {
	UpsertVendor(ctx context.Context, req UpsertVendorRequest) (Vendor, error)
	GetVendor(ctx context.Context, id string) (Vendor, error)
	UpsertCabin(ctx context.Context, req UpsertCabinRequest) (Cabin, error)
	// CabinOwner resolves the vendor owning a cabin, served from cache when warm.
	CabinOwner(ctx context.Context, cabinID snowflake.ID) (snowflake.ID, error)
}

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidCommission = errors.New("invalid_commission")
	ErrInvalidManualFee  = errors.New("invalid_manual_fee")
	ErrInvalidFrequency  = errors.New("invalid_payout_frequency")
	ErrInvalidMinimum    = errors.New("invalid_minimum_payout_amount")
	ErrNotFound          = errors.New("vendor_not_found")
	ErrCabinNotFound     = errors.New("cabin_not_found")
	ErrVendorNotEligible = errors.New("vendor_not_eligible")
)
