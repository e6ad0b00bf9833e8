package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	compliancedomain "github.com/smallbiznis/provenance/internal/compliance/domain"
)

func (s *Server) AddComplianceRule(c *gin.Context) {
	var req compliancedomain.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Caller = s.actor(c)

	rule, err := s.complianceSvc.AddRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) SetComplianceRuleActive(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	var body struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.complianceSvc.SetRuleActive(c.Request.Context(), code, body.Active, s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListComplianceRules(c *gin.Context) {
	productType := strings.TrimSpace(c.Query("product_type"))

	rules, err := s.complianceSvc.RulesForProductType(c.Request.Context(), productType)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (s *Server) RecordComplianceCheck(c *gin.Context) {
	var req compliancedomain.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Caller = s.actor(c)

	check, err := s.complianceSvc.Check(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, check)
}

func (s *Server) RecordComplianceBatch(c *gin.Context) {
	var req compliancedomain.BatchCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Caller = s.actor(c)

	checks, err := s.complianceSvc.BatchCheck(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": checks})
}

func (s *Server) GetProductCompliance(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.complianceSvc.ProductCompliance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
