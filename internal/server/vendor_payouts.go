package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/settlement/internal/payout/domain"
)

type manualPayoutRequest struct {
	RequestedAmount int64    `json:"requested_amount"`
	RevenueEventIDs []string `json:"revenue_event_ids"`
	CabinID         string   `json:"cabin_id"`
}

func (r manualPayoutRequest) toDomain(vendorID string) payoutdomain.ManualPayoutRequest {
	return payoutdomain.ManualPayoutRequest{
		VendorID:        vendorID,
		RequestedAmount: r.RequestedAmount,
		RevenueEventIDs: r.RevenueEventIDs,
		CabinID:         strings.TrimSpace(r.CabinID),
	}
}

func (s *Server) GetVendorBalance(c *gin.Context) {
	vendorID, err := vendorIDFromActor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.manualSvc.Summary(c.Request.Context(), vendorID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) PreviewVendorPayout(c *gin.Context) {
	vendorID, err := vendorIDFromActor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req manualPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	breakdown, err := s.manualSvc.Preview(c.Request.Context(), req.toDomain(vendorID.String()))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": breakdown})
}

func (s *Server) RequestVendorPayout(c *gin.Context) {
	vendorID, err := vendorIDFromActor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req manualPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.manualSvc.Request(c.Request.Context(), req.toDomain(vendorID.String()))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListVendorPayouts(c *gin.Context) {
	vendorID, err := vendorIDFromActor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req, err := bindListPayouts(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.manualSvc.History(c.Request.Context(), vendorID.String(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Batches, "page_info": resp.PageInfo})
}

// DownloadVendorPayoutStatement serves a statement only for the caller's own batches.
func (s *Server) DownloadVendorPayoutStatement(c *gin.Context) {
	vendorID, err := vendorIDFromActor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	batchID := strings.TrimSpace(c.Param("id"))
	detail, err := s.lifecycleSvc.Get(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if detail.Batch.VendorID != vendorID {
		AbortWithError(c, ErrForbidden)
		return
	}

	s.writeStatement(c, batchID)
}
