package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provenance/internal/accessguard"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/internal/clock"
	"github.com/smallbiznis/provenance/internal/compliance/domain"
	"github.com/smallbiznis/provenance/internal/events"
	"github.com/smallbiznis/provenance/internal/observability/metrics"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("compliance.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		guard:       p.Guard,
		outbox:      p.Outbox,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		repo:        p.Repo,
		productRepo: p.ProductRepo,
	}
}

// AddRule registers a requirement for a product type. Admin only. Duplicate
// codes are rejected; retiring a rule goes through SetRuleActive instead of
// deletion so past checks keep their rule row.
func (s *Service) AddRule(ctx context.Context, req domain.RuleRequest) (*domain.Rule, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}
	caller := strings.ToLower(strings.TrimSpace(req.Caller))
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.Code)
	name := strings.TrimSpace(req.Name)
	productType := strings.TrimSpace(req.ProductType)
	requirement := strings.TrimSpace(req.Requirement)
	if code == "" || name == "" || productType == "" || requirement == "" {
		return nil, domain.ErrEmptyField
	}

	rule := &domain.Rule{
		Code:        code,
		Name:        name,
		ProductType: productType,
		Requirement: requirement,
		Active:      true,
		CreatedAt:   s.clock.Now(),
	}

	inserted, err := s.repo.InsertRule(ctx, s.db, rule)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, domain.ErrDuplicateRule
	}

	s.log.Info("compliance rule added",
		zap.String("code", code),
		zap.String("product_type", productType),
	)

	if err := s.auditSvc.AuditLog(ctx, caller, "compliance.rule_added", "compliance_rule", &code, map[string]any{
		"product_type": productType,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return rule, nil
}

// SetRuleActive toggles a rule in or out of the derivation without deleting it.
func (s *Service) SetRuleActive(ctx context.Context, code string, active bool, caller string) error {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return err
	}
	caller = strings.ToLower(strings.TrimSpace(caller))
	if err := s.guard.RequireAdmin(caller); err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ErrEmptyField
	}

	rule, err := s.repo.FindRule(ctx, s.db, code)
	if err != nil {
		return err
	}
	if rule == nil {
		return domain.ErrRuleNotFound
	}
	if rule.Active == active {
		return nil
	}

	if err := s.repo.SetRuleActive(ctx, s.db, code, active); err != nil {
		return err
	}

	s.log.Info("compliance rule toggled", zap.String("code", code), zap.Bool("active", active))

	if err := s.auditSvc.AuditLog(ctx, caller, "compliance.rule_toggled", "compliance_rule", &code, map[string]any{
		"active": active,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

// Check records one auditor verdict and recomputes the product's derived
// status in the same transaction.
func (s *Service) Check(ctx context.Context, req domain.CheckRequest) (*domain.Check, error) {
	checks, err := s.BatchCheck(ctx, domain.BatchCheckRequest{
		ProductID: req.ProductID,
		RuleCodes: []string{req.RuleCode},
		Passed:    []bool{req.Passed},
		Evidence:  []string{req.Evidence},
		Caller:    req.Caller,
	})
	if err != nil {
		return nil, err
	}
	return &checks[0], nil
}

// BatchCheck appends several verdicts for one product atomically. The arrays
// must agree in length; the status projection is recomputed once at the end.
func (s *Service) BatchCheck(ctx context.Context, req domain.BatchCheckRequest) ([]domain.Check, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}

	caller := strings.ToLower(strings.TrimSpace(req.Caller))
	if !s.guard.IsAuditor(caller) {
		return nil, accessguard.ErrUnauthorized
	}
	if req.ProductID <= 0 {
		return nil, domain.ErrInvalidID
	}
	if len(req.RuleCodes) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	if len(req.Passed) != len(req.RuleCodes) || len(req.Evidence) != len(req.RuleCodes) {
		return nil, domain.ErrArityMismatch
	}

	now := s.clock.Now()
	checks := make([]domain.Check, 0, len(req.RuleCodes))
	var statusChanged bool
	var compliant bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.productRepo.FindByID(ctx, tx, req.ProductID, true)
		if err != nil {
			return err
		}
		if product == nil {
			return domain.ErrNotFound
		}

		for i, code := range req.RuleCodes {
			code = strings.TrimSpace(code)
			if code == "" {
				return domain.ErrEmptyField
			}
			rule, err := s.repo.FindRule(ctx, tx, code)
			if err != nil {
				return err
			}
			if rule == nil {
				return domain.ErrRuleNotFound
			}
			if !rule.Active {
				return domain.ErrRuleInactive
			}
			if rule.ProductType != product.ProductType {
				return domain.ErrTypeMismatch
			}

			check := domain.Check{
				ID:        s.genID.Generate().Int64(),
				ProductID: req.ProductID,
				RuleCode:  code,
				Passed:    req.Passed[i],
				Evidence:  strings.TrimSpace(req.Evidence[i]),
				Auditor:   caller,
				CheckedAt: now,
			}
			if err := s.repo.InsertCheck(ctx, tx, &check); err != nil {
				return err
			}
			checks = append(checks, check)

			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type: events.EventComplianceChecked,
				Payload: map[string]any{
					"product_id": strconv.FormatInt(req.ProductID, 10),
					"rule_code":  code,
					"passed":     req.Passed[i],
					"auditor":    caller,
				},
				DedupeKey: "compliance.checked:" + strconv.FormatInt(check.ID, 10),
			}); err != nil {
				return err
			}
		}

		compliant, err = s.deriveStatus(ctx, tx, req.ProductID, product.ProductType)
		if err != nil {
			return err
		}

		previous, err := s.repo.FindStatus(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		wasCompliant := previous != nil && previous.Compliant
		statusChanged = compliant != wasCompliant

		if err := s.repo.UpsertStatus(ctx, tx, &domain.Status{
			ProductID:   req.ProductID,
			Compliant:   compliant,
			EvaluatedAt: now,
		}); err != nil {
			return err
		}

		if statusChanged {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				Type: events.EventComplianceChanged,
				Payload: map[string]any{
					"product_id": strconv.FormatInt(req.ProductID, 10),
					"compliant":  compliant,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, check := range checks {
		s.metrics.RecordComplianceCheck(check.Passed)
	}
	s.log.Info("compliance checks recorded",
		zap.Int64("product_id", req.ProductID),
		zap.Int("count", len(checks)),
		zap.Bool("compliant", compliant),
		zap.Bool("status_changed", statusChanged),
	)

	targetID := strconv.FormatInt(req.ProductID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "compliance.checked", "product", &targetID, map[string]any{
		"rule_codes": req.RuleCodes,
		"compliant":  compliant,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return checks, nil
}

func (s *Service) RulesForProductType(ctx context.Context, productType string) ([]domain.Rule, error) {
	productType = strings.TrimSpace(productType)
	if productType == "" {
		return nil, domain.ErrEmptyField
	}
	return s.repo.ListRulesByProductType(ctx, s.db, productType, false)
}

func (s *Service) ProductCompliance(ctx context.Context, productID int64) (*domain.ComplianceReport, error) {
	if productID <= 0 {
		return nil, domain.ErrInvalidID
	}

	product, err := s.productRepo.FindByID(ctx, s.db, productID, false)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrNotFound
	}

	checks, err := s.repo.ListChecks(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}

	report := &domain.ComplianceReport{
		ProductID: productID,
		Checks:    checks,
	}
	status, err := s.repo.FindStatus(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	if status != nil {
		report.Compliant = status.Compliant
		report.EvaluatedAt = status.EvaluatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return report, nil
}

// deriveStatus computes compliant = every active rule for the product's type
// has a latest check, and that check passed. No applicable rules means
// compliant.
func (s *Service) deriveStatus(ctx context.Context, tx *gorm.DB, productID int64, productType string) (bool, error) {
	rules, err := s.repo.ListRulesByProductType(ctx, tx, productType, true)
	if err != nil {
		return false, err
	}
	verdicts, err := s.repo.LatestCheckPerRule(ctx, tx, productID)
	if err != nil {
		return false, err
	}

	for _, rule := range rules {
		passed, ok := verdicts[rule.Code]
		if !ok || !passed {
			return false, nil
		}
	}
	return true, nil
}
