package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
)

func (s *Server) UpsertVendor(c *gin.Context) {
	var req vendordomain.UpsertVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	vendor, err := s.vendorSvc.UpsertVendor(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vendor})
}

func (s *Server) UpsertCabin(c *gin.Context) {
	var req vendordomain.UpsertCabinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	cabin, err := s.vendorSvc.UpsertCabin(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cabin})
}
