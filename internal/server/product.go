package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
)

func (s *Server) RegisterProduct(c *gin.Context) {
	var req productdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Caller = s.actor(c)

	resp, err := s.productSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.productSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListCheckpoints(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	checkpoints, err := s.productSvc.Checkpoints(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": checkpoints})
}

func (s *Server) AddCheckpoint(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req productdomain.CheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProductID = id
	req.Caller = s.actor(c)

	checkpoint, err := s.productSvc.AddCheckpoint(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkpoint)
}

func (s *Server) AddStakeholder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req productdomain.StakeholderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProductID = id
	req.Caller = s.actor(c)

	if err := s.productSvc.AddStakeholder(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeactivateProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.productSvc.Deactivate(c.Request.Context(), id, s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListProductsByStakeholder(c *gin.Context) {
	addr := strings.TrimSpace(c.Query("stakeholder"))
	if addr == "" {
		AbortWithError(c, newValidationError("stakeholder", "invalid_address", "stakeholder is required"))
		return
	}

	products, err := s.productSvc.ByStakeholder(c.Request.Context(), addr)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": products})
}

func (s *Server) GetProductIDByBatch(c *gin.Context) {
	batch := strings.TrimSpace(c.Param("batch"))

	id, err := s.productSvc.IDByBatch(c.Request.Context(), batch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": strconv.FormatInt(id, 10)})
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, newValidationError(name, "invalid_id", "invalid id")
	}
	return id, nil
}
