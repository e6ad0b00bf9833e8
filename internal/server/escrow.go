package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	escrowdomain "github.com/smallbiznis/provenance/internal/escrow/domain"
)

type depositRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

func (s *Server) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.escrowSvc.Deposit(c.Request.Context(), req.Address, req.Amount, s.actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) GetEscrowAccount(c *gin.Context) {
	addr := strings.TrimSpace(c.Param("address"))

	account, err := s.escrowSvc.Account(c.Request.Context(), addr)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) CreateEscrow(c *gin.Context) {
	var req escrowdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Caller = s.actor(c)

	payment, err := s.escrowSvc.CreateEscrow(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (s *Server) GetEscrowPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.escrowSvc.Payment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) ReleaseEscrow(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.escrowSvc.Release(c.Request.Context(), id, s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (s *Server) DisputeEscrow(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req escrowdomain.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.PaymentID = id
	req.Caller = s.actor(c)

	dispute, err := s.escrowSvc.InitiateDispute(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

func (s *Server) ResolveEscrowDispute(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body struct {
		FavorPayer bool `json:"favor_payer"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.escrowSvc.ResolveDispute(c.Request.Context(), id, body.FavorPayer, s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
