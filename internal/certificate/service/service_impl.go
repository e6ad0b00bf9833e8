package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provenance/internal/accessguard"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/internal/cache"
	"github.com/smallbiznis/provenance/internal/certificate/domain"
	"github.com/smallbiznis/provenance/internal/clock"
	"github.com/smallbiznis/provenance/internal/events"
	"github.com/smallbiznis/provenance/internal/observability/metrics"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	dbutil "github.com/smallbiznis/provenance/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const verifyCacheTTL = 30 * time.Second

// cachedCert keeps just enough to answer VerifyByCode without a query. The
// expiry reason is derived per call so a cached entry never reports a stale
// "valid" past the certificate's expiry.
type cachedCert struct {
	id        int64
	valid     bool
	expiresAt time.Time
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Guard       *accessguard.Guard
	Outbox      *events.Outbox
	AuditSvc    auditdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
	Repo        domain.Repository
	ProductRepo productdomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	guard       *accessguard.Guard
	outbox      *events.Outbox
	auditSvc    auditdomain.Service
	metrics     *metrics.Metrics
	repo        domain.Repository
	productRepo productdomain.Repository
	verifyCache cache.Cache[string, cachedCert]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("certificate.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		guard:       p.Guard,
		outbox:      p.Outbox,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		repo:        p.Repo,
		productRepo: p.ProductRepo,
		verifyCache: cache.NewTTLCache[string, cachedCert](),
	}
}

// Mint issues the authenticity certificate for a product. Admin only, so a
// manufacturer cannot self-certify. One certificate per product; verification
// codes stay unique forever, revoked ones included.
func (s *Service) Mint(ctx context.Context, req domain.MintRequest) (*domain.Certificate, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}

	caller := strings.ToLower(strings.TrimSpace(req.Caller))
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	if req.ProductID <= 0 {
		return nil, domain.ErrInvalidID
	}

	holder := strings.ToLower(strings.TrimSpace(req.Holder))
	certType := strings.TrimSpace(req.CertType)
	code := strings.TrimSpace(req.VerificationCode)
	if holder == "" || certType == "" || code == "" {
		return nil, domain.ErrEmptyField
	}

	now := s.clock.Now()
	if req.ExpiresAt.IsZero() || !req.ExpiresAt.After(now) {
		return nil, domain.ErrInvalidExpiry
	}

	cert := &domain.Certificate{
		ID:               s.genID.Generate().Int64(),
		ProductID:        req.ProductID,
		Holder:           holder,
		CertType:         certType,
		Issuer:           caller,
		IssuedAt:         now,
		ExpiresAt:        req.ExpiresAt.UTC(),
		Valid:            true,
		VerificationCode: code,
	}
	if req.MetadataRef != nil {
		ref := strings.TrimSpace(*req.MetadataRef)
		if ref != "" {
			cert.MetadataRef = &ref
		}
	}
	if len(req.Standards) > 0 {
		raw, err := json.Marshal(req.Standards)
		if err != nil {
			return nil, err
		}
		cert.Standards = datatypes.JSON(raw)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.productRepo.FindByID(ctx, tx, req.ProductID, false)
		if err != nil {
			return err
		}
		if product == nil {
			return domain.ErrNotFound
		}

		certified, err := s.repo.ExistsForProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if certified {
			return domain.ErrAlreadyCertified
		}
		taken, err := s.repo.ExistsCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrDuplicateCode
		}

		if err := s.repo.Insert(ctx, tx, cert); err != nil {
			if dbutil.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateCode
			}
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventCertificateMinted,
			Payload: map[string]any{
				"certificate_id": strconv.FormatInt(cert.ID, 10),
				"product_id":     strconv.FormatInt(req.ProductID, 10),
				"holder":         holder,
				"issuer":         caller,
			},
			DedupeKey: "certificate.minted:" + strconv.FormatInt(req.ProductID, 10),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCertificateMinted()
	s.log.Info("certificate minted",
		zap.Int64("certificate_id", cert.ID),
		zap.Int64("product_id", req.ProductID),
		zap.String("holder", holder),
	)

	targetID := strconv.FormatInt(cert.ID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "certificate.minted", "certificate", &targetID, map[string]any{
		"product_id": strconv.FormatInt(req.ProductID, 10),
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return cert, nil
}

// Invalidate revokes the certificate. Holder or admin; revocation is one-way
// and repeat calls succeed without a second event.
func (s *Service) Invalidate(ctx context.Context, id int64, caller string) error {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return err
	}
	if id <= 0 {
		return domain.ErrInvalidID
	}
	caller = strings.ToLower(strings.TrimSpace(caller))

	var code string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cert, err := s.repo.FindByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if cert == nil {
			return domain.ErrNotFound
		}
		if cert.Holder != caller && !s.guard.IsAdmin(caller) {
			return accessguard.ErrUnauthorized
		}
		code = cert.VerificationCode
		if !cert.Valid {
			return nil
		}

		if err := s.repo.Invalidate(ctx, tx, id); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventCertificateInvalidated,
			Payload: map[string]any{
				"certificate_id": strconv.FormatInt(id, 10),
				"actor":          caller,
			},
			DedupeKey: "certificate.invalidated:" + strconv.FormatInt(id, 10),
		})
	})
	if err != nil {
		return err
	}

	s.verifyCache.Delete(code)
	s.log.Info("certificate invalidated", zap.Int64("certificate_id", id), zap.String("actor", caller))

	targetID := strconv.FormatInt(id, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "certificate.invalidated", "certificate", &targetID, nil); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Certificate, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}
	cert, err := s.repo.FindByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, domain.ErrNotFound
	}
	return cert, nil
}

func (s *Service) Verify(ctx context.Context, id int64) (*domain.Verification, error) {
	cert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.verdict(cachedCert{id: cert.ID, valid: cert.Valid, expiresAt: cert.ExpiresAt}), nil
}

// VerifyByCode resolves a verification code without scanning, via the unique
// index plus a short-lived cache for repeated consumer lookups.
func (s *Service) VerifyByCode(ctx context.Context, code string) (*domain.Verification, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrEmptyField
	}

	if entry, ok := s.verifyCache.Get(code); ok {
		return s.verdict(entry), nil
	}

	cert, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, domain.ErrNotFound
	}

	entry := cachedCert{id: cert.ID, valid: cert.Valid, expiresAt: cert.ExpiresAt}
	s.verifyCache.Set(code, entry, verifyCacheTTL)
	return s.verdict(entry), nil
}

func (s *Service) verdict(entry cachedCert) *domain.Verification {
	v := &domain.Verification{CertificateID: entry.id}
	switch {
	case !entry.valid:
		v.Reason = domain.ReasonInvalidated
	case s.clock.Now().After(entry.expiresAt):
		v.Reason = domain.ReasonExpired
	default:
		v.Valid = true
		v.Reason = domain.ReasonValid
	}
	s.metrics.RecordCertificateVerification(v.Reason)
	return v
}
