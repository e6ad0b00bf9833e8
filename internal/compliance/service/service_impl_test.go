package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/provenance/internal/accessguard"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/internal/clock"
	compliancedomain "github.com/smallbiznis/provenance/internal/compliance/domain"
	compliancerepo "github.com/smallbiznis/provenance/internal/compliance/repository"
	complianceservice "github.com/smallbiznis/provenance/internal/compliance/service"
	"github.com/smallbiznis/provenance/internal/config"
	"github.com/smallbiznis/provenance/internal/events"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	productrepo "github.com/smallbiznis/provenance/internal/product/repository"
	productservice "github.com/smallbiznis/provenance/internal/product/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, actor string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (noopAuditService) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	return auditdomain.ListResponse{}, nil
}

type fixture struct {
	db        *gorm.DB
	svc       compliancedomain.Service
	productID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(14)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	outbox := events.NewOutbox(db, zap.NewNop())
	auditSvc := noopAuditService{}
	guard := accessguard.New(accessguard.Params{
		DB:  db,
		Log: zap.NewNop(),
		Cfg: config.Config{
			AdminAddresses:   []string{"admin"},
			AuditorAddresses: []string{"inspector"},
		},
		Outbox:   outbox,
		AuditSvc: auditSvc,
	})
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	productRepo := productrepo.Provide()

	productSvc := productservice.NewService(productservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Guard:    guard,
		Outbox:   outbox,
		AuditSvc: auditSvc,
		Repo:     productRepo,
	})
	product, err := productSvc.Register(ctx, productdomain.RegisterRequest{
		Name:           "Insulin Pen",
		ProductType:    "pharmaceutical",
		BatchNumber:    "INS-001",
		ManufacturedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Caller:         "acme-pharma",
	})
	if err != nil {
		t.Fatalf("register product: %v", err)
	}

	svc := complianceservice.NewService(complianceservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Guard:       guard,
		Outbox:      outbox,
		AuditSvc:    auditSvc,
		Repo:        compliancerepo.Provide(),
		ProductRepo: productRepo,
	})

	f := &fixture{db: db, svc: svc, productID: product.ID}
	f.addRule(t, "PHARMA-GMP", "Good manufacturing practice")
	f.addRule(t, "PHARMA-COLD-CHAIN", "Cold chain integrity")
	return f
}

func (f *fixture) addRule(t *testing.T, code, name string) {
	t.Helper()
	_, err := f.svc.AddRule(context.Background(), compliancedomain.RuleRequest{
		Code:        code,
		Name:        name,
		ProductType: "pharmaceutical",
		Requirement: name,
		Caller:      "admin",
	})
	if err != nil {
		t.Fatalf("add rule %s: %v", code, err)
	}
}

func TestAddRuleRejectsDuplicateAndNonAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddRule(ctx, compliancedomain.RuleRequest{
		Code:        "PHARMA-GMP",
		Name:        "GMP again",
		ProductType: "pharmaceutical",
		Requirement: "dup",
		Caller:      "admin",
	})
	if !errors.Is(err, compliancedomain.ErrDuplicateRule) {
		t.Fatalf("err = %v, want ErrDuplicateRule", err)
	}

	_, err = f.svc.AddRule(ctx, compliancedomain.RuleRequest{
		Code:        "PHARMA-NEW",
		Name:        "New",
		ProductType: "pharmaceutical",
		Requirement: "new",
		Caller:      "inspector",
	})
	if !errors.Is(err, accessguard.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCheckRequiresAuditor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "PHARMA-GMP",
		Passed:    true,
		Caller:    "acme-pharma",
	})
	if !errors.Is(err, accessguard.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestStatusDerivationFlips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// one rule checked, the other missing: not compliant
	_, err := f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "PHARMA-GMP",
		Passed:    true,
		Evidence:  "site audit 2025-05",
		Caller:    "inspector",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	report, err := f.svc.ProductCompliance(ctx, f.productID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Compliant {
		t.Fatalf("compliant with an unchecked rule")
	}

	// second rule passes: compliant, one status change event
	_, err = f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "PHARMA-COLD-CHAIN",
		Passed:    true,
		Evidence:  "logger trace",
		Caller:    "inspector",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	report, err = f.svc.ProductCompliance(ctx, f.productID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.Compliant {
		t.Fatalf("expected compliant after both rules pass")
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM outbox_events WHERE event_type = 'compliance.status_changed'", 1)

	// a failing re-check flips it back
	_, err = f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "PHARMA-COLD-CHAIN",
		Passed:    false,
		Evidence:  "excursion detected",
		Caller:    "inspector",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	report, err = f.svc.ProductCompliance(ctx, f.productID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Compliant {
		t.Fatalf("expected non-compliant after failing re-check")
	}
	if len(report.Checks) != 3 {
		t.Fatalf("checks = %d, want 3 (append-only)", len(report.Checks))
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM outbox_events WHERE event_type = 'compliance.status_changed'", 2)
}

func TestInactiveRuleDropsOutOfDerivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "PHARMA-GMP",
		Passed:    true,
		Caller:    "inspector",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	if err := f.svc.SetRuleActive(ctx, "PHARMA-COLD-CHAIN", false, "admin"); err != nil {
		t.Fatalf("retire rule: %v", err)
	}

	// retired rule cannot take new checks
	_, err = f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "PHARMA-COLD-CHAIN",
		Passed:    true,
		Caller:    "inspector",
	})
	if !errors.Is(err, compliancedomain.ErrRuleInactive) {
		t.Fatalf("err = %v, want ErrRuleInactive", err)
	}

	// next check recomputes status without the retired rule
	_, err = f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "PHARMA-GMP",
		Passed:    true,
		Caller:    "inspector",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	report, err := f.svc.ProductCompliance(ctx, f.productID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.Compliant {
		t.Fatalf("expected compliant once the unchecked rule is retired")
	}
}

func TestBatchCheckValidatesArityAndAtomicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.BatchCheck(ctx, compliancedomain.BatchCheckRequest{
		ProductID: f.productID,
		RuleCodes: []string{"PHARMA-GMP", "PHARMA-COLD-CHAIN"},
		Passed:    []bool{true},
		Evidence:  []string{"a", "b"},
		Caller:    "inspector",
	})
	if !errors.Is(err, compliancedomain.ErrArityMismatch) {
		t.Fatalf("err = %v, want ErrArityMismatch", err)
	}

	// unknown rule code aborts the whole batch
	_, err = f.svc.BatchCheck(ctx, compliancedomain.BatchCheckRequest{
		ProductID: f.productID,
		RuleCodes: []string{"PHARMA-GMP", "NO-SUCH-RULE"},
		Passed:    []bool{true, true},
		Evidence:  []string{"a", "b"},
		Caller:    "inspector",
	})
	if !errors.Is(err, compliancedomain.ErrRuleNotFound) {
		t.Fatalf("err = %v, want ErrRuleNotFound", err)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM compliance_checks", 0)

	checks, err := f.svc.BatchCheck(ctx, compliancedomain.BatchCheckRequest{
		ProductID: f.productID,
		RuleCodes: []string{"PHARMA-GMP", "PHARMA-COLD-CHAIN"},
		Passed:    []bool{true, true},
		Evidence:  []string{"a", "b"},
		Caller:    "inspector",
	})
	if err != nil {
		t.Fatalf("batch check: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(checks))
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM compliance_checks", 2)
}

func TestCheckRejectsTypeMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddRule(ctx, compliancedomain.RuleRequest{
		Code:        "LUX-AUTHENTICITY",
		Name:        "Authenticity",
		ProductType: "luxury",
		Requirement: "authenticity evidence",
		Caller:      "admin",
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	_, err = f.svc.Check(ctx, compliancedomain.CheckRequest{
		ProductID: f.productID,
		RuleCode:  "LUX-AUTHENTICITY",
		Passed:    true,
		Caller:    "inspector",
	})
	if !errors.Is(err, compliancedomain.ErrTypeMismatch) {
		t.Fatalf("err = %v, want ErrTypeMismatch", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_compliance_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE products (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			product_type TEXT NOT NULL,
			manufacturer TEXT NOT NULL,
			batch_number TEXT NOT NULL,
			manufactured_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			raw_materials TEXT,
			metadata_ref TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_products_batch_number ON products(batch_number)`,
		`CREATE TABLE product_stakeholders (
			product_id BIGINT NOT NULL,
			address TEXT NOT NULL,
			added_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (product_id, address)
		)`,
		`CREATE TABLE checkpoints (
			id BIGINT PRIMARY KEY,
			product_id BIGINT NOT NULL,
			seq BIGINT NOT NULL,
			status TEXT NOT NULL,
			location TEXT NOT NULL,
			actor TEXT NOT NULL,
			telemetry TEXT,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_checkpoints_product_seq ON checkpoints(product_id, seq)`,
		`CREATE TABLE compliance_rules (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			product_type TEXT NOT NULL,
			requirement TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE compliance_checks (
			id BIGINT PRIMARY KEY,
			product_id BIGINT NOT NULL,
			rule_code TEXT NOT NULL,
			passed BOOLEAN NOT NULL,
			evidence TEXT,
			auditor TEXT NOT NULL,
			checked_at DATETIME NOT NULL
		)`,
		`CREATE TABLE compliance_status (
			product_id BIGINT PRIMARY KEY,
			compliant BOOLEAN NOT NULL,
			evaluated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE outbox_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			dedupe_key TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			published_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_outbox_events_dedupe ON outbox_events(dedupe_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func assertCount(t *testing.T, db *gorm.DB, query string, want int64) {
	t.Helper()
	var got int64
	if err := db.Raw(query).Scan(&got).Error; err != nil {
		t.Fatalf("count query: %v", err)
	}
	if got != want {
		t.Fatalf("%s = %d, want %d", query, got, want)
	}
}
