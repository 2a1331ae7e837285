package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
)

type recordRevenueRequest struct {
	ExternalRef      string `json:"external_ref"`
	CabinID          string `json:"cabin_id"`
	GrossAmount      int64  `json:"gross_amount"`
	CommissionAmount *int64 `json:"commission_amount"`
	OccurredAt       string `json:"occurred_at"`
}

func (s *Server) RecordRevenueEvent(c *gin.Context) {
	var req recordRevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var occurredAt time.Time
	if raw := strings.TrimSpace(req.OccurredAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, revenuedomain.ErrInvalidOccurredAt)
			return
		}
		occurredAt = parsed
	}

	resp, err := s.revenueSvc.Record(c.Request.Context(), revenuedomain.RecordRequest{
		ExternalRef:      strings.TrimSpace(req.ExternalRef),
		CabinID:          strings.TrimSpace(req.CabinID),
		GrossAmount:      req.GrossAmount,
		CommissionAmount: req.CommissionAmount,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": resp.Event, "created": resp.Created})
}

func (s *Server) RefundRevenueEvent(c *gin.Context) {
	event, err := s.revenueSvc.Refund(c.Request.Context(), strings.TrimSpace(c.Param("ref")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}
