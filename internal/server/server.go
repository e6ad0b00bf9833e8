package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/provenance/internal/accessguard"
	"github.com/smallbiznis/provenance/internal/audit"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/internal/certificate"
	certificatedomain "github.com/smallbiznis/provenance/internal/certificate/domain"
	"github.com/smallbiznis/provenance/internal/compliance"
	compliancedomain "github.com/smallbiznis/provenance/internal/compliance/domain"
	"github.com/smallbiznis/provenance/internal/config"
	"github.com/smallbiznis/provenance/internal/escrow"
	escrowdomain "github.com/smallbiznis/provenance/internal/escrow/domain"
	"github.com/smallbiznis/provenance/internal/events"
	"github.com/smallbiznis/provenance/internal/locks"
	"github.com/smallbiznis/provenance/internal/observability"
	obsmiddleware "github.com/smallbiznis/provenance/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/provenance/internal/observability/metrics"
	obstracing "github.com/smallbiznis/provenance/internal/observability/tracing"
	"github.com/smallbiznis/provenance/internal/product"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	"github.com/smallbiznis/provenance/internal/providers/pdf"
	"github.com/smallbiznis/provenance/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	events.Module,
	locks.Module,
	accessguard.Module,
	product.Module,
	certificate.Module,
	compliance.Module,
	escrow.Module,
	seed.Module,
	fx.Provide(pdf.New),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(log, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	guard          *accessguard.Guard
	auditSvc       auditdomain.Service
	productSvc     productdomain.Service
	certificateSvc certificatedomain.Service
	complianceSvc  compliancedomain.Service
	escrowSvc      escrowdomain.Service
	pdfProvider    pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Guard          *accessguard.Guard
	AuditSvc       auditdomain.Service
	ProductSvc     productdomain.Service
	CertificateSvc certificatedomain.Service
	ComplianceSvc  compliancedomain.Service
	EscrowSvc      escrowdomain.Service
	PDFProvider    pdf.Provider
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		guard:          p.Guard,
		auditSvc:       p.AuditSvc,
		productSvc:     p.ProductSvc,
		certificateSvc: p.CertificateSvc,
		complianceSvc:  p.ComplianceSvc,
		escrowSvc:      p.EscrowSvc,
		pdfProvider:    p.PDFProvider,
	}

	svc.registerProductRoutes()
	svc.registerCertificateRoutes()
	svc.registerComplianceRoutes()
	svc.registerEscrowRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerProductRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/products", s.ActorRequired(), s.RegisterProduct)
	v1.GET("/products", s.ListProductsByStakeholder)
	v1.GET("/products/batch/:batch", s.GetProductIDByBatch)
	v1.GET("/products/:id", s.GetProduct)
	v1.GET("/products/:id/checkpoints", s.ListCheckpoints)
	v1.POST("/products/:id/checkpoints", s.ActorRequired(), s.AddCheckpoint)
	v1.POST("/products/:id/stakeholders", s.ActorRequired(), s.AddStakeholder)
	v1.POST("/products/:id/deactivate", s.ActorRequired(), s.DeactivateProduct)
	v1.GET("/products/:id/compliance", s.GetProductCompliance)
}

func (s *Server) registerCertificateRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/certificates", s.ActorRequired(), s.MintCertificate)
	v1.GET("/certificates/verify", s.VerifyCertificateByCode)
	v1.GET("/certificates/:id", s.GetCertificate)
	v1.GET("/certificates/:id/verify", s.VerifyCertificate)
	v1.GET("/certificates/:id/pdf", s.CertificatePDF)
	v1.POST("/certificates/:id/invalidate", s.ActorRequired(), s.InvalidateCertificate)
}

func (s *Server) registerComplianceRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/compliance/rules", s.ActorRequired(), s.AddComplianceRule)
	v1.POST("/compliance/rules/:code/active", s.ActorRequired(), s.SetComplianceRuleActive)
	v1.GET("/compliance/rules", s.ListComplianceRules)
	v1.POST("/compliance/checks", s.ActorRequired(), s.RecordComplianceCheck)
	v1.POST("/compliance/checks/batch", s.ActorRequired(), s.RecordComplianceBatch)
}

func (s *Server) registerEscrowRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/escrow/deposits", s.ActorRequired(), s.Deposit)
	v1.GET("/escrow/accounts/:address", s.GetEscrowAccount)
	v1.POST("/escrow/payments", s.ActorRequired(), s.CreateEscrow)
	v1.GET("/escrow/payments/:id", s.GetEscrowPayment)
	v1.POST("/escrow/payments/:id/release", s.ActorRequired(), s.ReleaseEscrow)
	v1.POST("/escrow/payments/:id/dispute", s.ActorRequired(), s.DisputeEscrow)
	v1.POST("/escrow/disputes/:id/resolve", s.ActorRequired(), s.ResolveEscrowDispute)
}

func (s *Server) registerAdminRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/admin/pause", s.ActorRequired(), s.PauseSystem)
	v1.POST("/admin/unpause", s.ActorRequired(), s.UnpauseSystem)
	v1.POST("/admin/platform-fee", s.ActorRequired(), s.SetPlatformFee)
	v1.GET("/admin/audit-logs", s.ActorRequired(), s.ListAuditLogs)
	v1.GET("/admin/solvency", s.ActorRequired(), s.VerifySolvency)
}
