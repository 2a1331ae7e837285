package domain

import (
	"context"
	"errors"
	"time"
)

type RecordRequest struct {
	ExternalRef      string    `json:"external_ref"`
	CabinID          string    `json:"cabin_id"`
	GrossAmount      int64     `json:"gross_amount"`
	CommissionAmount *int64    `json:"commission_amount"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type RecordResponse struct {
	Event   RevenueEvent `json:"event"`
	Created bool         `json:"created"`
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (RecordResponse, error)
	Refund(ctx context.Context, externalRef string) (RevenueEvent, error)
}

var (
	ErrInvalidExternalRef = errors.New("invalid_external_ref")
	ErrInvalidCabin       = errors.New("invalid_cabin_id")
	ErrInvalidAmount      = errors.New("invalid_gross_amount")
	ErrInvalidCommission  = errors.New("invalid_commission_amount")
	ErrInvalidOccurredAt  = errors.New("invalid_occurred_at")
	ErrNotFound           = errors.New("revenue_event_not_found")
	ErrAlreadySettled     = errors.New("revenue_event_already_settled")
	ErrClaimConflict      = errors.New("revenue_claim_conflict")
)
