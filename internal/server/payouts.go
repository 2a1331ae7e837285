package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/settlement/internal/payout/domain"
	"github.com/smallbiznis/settlement/internal/statement"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"go.uber.org/zap"
)

type listPayoutsQuery struct {
	pagination.Pagination
	Status   string `form:"status"`
	VendorID string `form:"vendor_id"`
	Type     string `form:"type"`
	From     string `form:"from"`
	To       string `form:"to"`
}

// bindListPayouts reads the shared listing query used by admins and vendors.
func bindListPayouts(c *gin.Context) (payoutdomain.ListBatchesRequest, error) {
	var query listPayoutsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return payoutdomain.ListBatchesRequest{}, invalidRequestError()
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		return payoutdomain.ListBatchesRequest{}, newValidationError("from", "invalid_from", "invalid from")
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		return payoutdomain.ListBatchesRequest{}, newValidationError("to", "invalid_to", "invalid to")
	}

	return payoutdomain.ListBatchesRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status:   strings.TrimSpace(query.Status),
		VendorID: strings.TrimSpace(query.VendorID),
		Type:     strings.TrimSpace(query.Type),
		From:     from,
		To:       to,
	}, nil
}

func (s *Server) ListPayouts(c *gin.Context) {
	req, err := bindListPayouts(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.lifecycleSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Batches, "page_info": resp.PageInfo})
}

func (s *Server) GetPayout(c *gin.Context) {
	detail, err := s.lifecycleSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

type transitionPayoutRequest struct {
	Status        string  `json:"status"`
	TransactionID *string `json:"transaction_id"`
	Notes         *string `json:"notes"`
}

func (s *Server) TransitionPayout(c *gin.Context) {
	var req transitionPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	batch, err := s.lifecycleSvc.Transition(c.Request.Context(), payoutdomain.TransitionRequest{
		BatchID:       strings.TrimSpace(c.Param("id")),
		Status:        strings.TrimSpace(req.Status),
		TransactionID: req.TransactionID,
		Notes:         req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) ReconcilePayout(c *gin.Context) {
	result, err := s.lifecycleSvc.Reconcile(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) DownloadPayoutStatement(c *gin.Context) {
	s.writeStatement(c, strings.TrimSpace(c.Param("id")))
}

func (s *Server) writeStatement(c *gin.Context, batchID string) {
	if s.statementSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	doc, err := s.statementSvc.Generate(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.FileName))
	c.Data(http.StatusOK, doc.ContentType, doc.Content)
}

// RunSettlementSweep triggers the auto settlement job on demand. Per-vendor
// failures are reported in the summary; only a failed sweep is an error.
func (s *Server) RunSettlementSweep(c *gin.Context) {
	if s.sweeper == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	summary, err := s.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		if summary.Failed == 0 {
			AbortWithError(c, err)
			return
		}
		s.log.Warn("settlement sweep finished with vendor failures",
			zap.String("run_id", summary.RunID),
			zap.Int("failed", summary.Failed),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

var _ statementGenerator = (*statement.Service)(nil)
