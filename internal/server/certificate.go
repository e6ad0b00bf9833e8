package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	certificatedomain "github.com/smallbiznis/provenance/internal/certificate/domain"
	"github.com/smallbiznis/provenance/internal/providers/pdf"
)

func (s *Server) MintCertificate(c *gin.Context) {
	var req certificatedomain.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Caller = s.actor(c)

	cert, err := s.certificateSvc.Mint(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

func (s *Server) GetCertificate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cert, err := s.certificateSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (s *Server) VerifyCertificate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	verification, err := s.certificateSvc.Verify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, verification)
}

func (s *Server) VerifyCertificateByCode(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		AbortWithError(c, newValidationError("code", "empty_field", "code is required"))
		return
	}

	verification, err := s.certificateSvc.VerifyByCode(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, verification)
}

func (s *Server) InvalidateCertificate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.certificateSvc.Invalidate(c.Request.Context(), id, s.actor(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) CertificatePDF(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	cert, err := s.certificateSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	product, err := s.productSvc.Get(ctx, cert.ProductID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := "valid"
	if !cert.Valid {
		status = "invalidated"
	}
	var standards []string
	if len(cert.Standards) > 0 {
		_ = json.Unmarshal(cert.Standards, &standards)
	}

	doc, err := s.pdfProvider.GenerateCertificate(ctx, pdf.CertificateData{
		CertificateID:    strconv.FormatInt(cert.ID, 10),
		ProductName:      product.Name,
		BatchNumber:      product.BatchNumber,
		ProductType:      product.ProductType,
		Manufacturer:     product.Manufacturer,
		Holder:           cert.Holder,
		CertType:         cert.CertType,
		Standards:        standards,
		Issuer:           cert.Issuer,
		IssuedAt:         cert.IssuedAt.UTC().Format("2006-01-02"),
		ExpiresAt:        cert.ExpiresAt.UTC().Format("2006-01-02"),
		VerificationCode: cert.VerificationCode,
		Status:           status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="certificate-`+strconv.FormatInt(cert.ID, 10)+`.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, nil)
}
