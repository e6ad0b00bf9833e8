package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/provenance/internal/accessguard"
)

func (s *Server) PauseSystem(c *gin.Context) {
	if err := s.guard.Pause(c.Request.Context(), s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) UnpauseSystem(c *gin.Context) {
	if err := s.guard.Unpause(c.Request.Context(), s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) SetPlatformFee(c *gin.Context) {
	var body struct {
		Bps int64 `json:"bps"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.escrowSvc.SetPlatformFee(c.Request.Context(), body.Bps, s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bps": body.Bps})
}

func (s *Server) VerifySolvency(c *gin.Context) {
	if !s.guard.IsAdmin(s.actor(c)) {
		AbortWithError(c, accessguard.ErrUnauthorized)
		return
	}

	if err := s.escrowSvc.VerifySolvency(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"solvent": true})
}
