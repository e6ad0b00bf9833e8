package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/provenance/internal/accessguard"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	auditrepo "github.com/smallbiznis/provenance/internal/audit/repository"
	auditservice "github.com/smallbiznis/provenance/internal/audit/service"
	"github.com/smallbiznis/provenance/internal/clock"
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
	db    *gorm.DB
	guard *accessguard.Guard
	clock *clock.FakeClock
	svc   productdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	outbox := events.NewOutbox(db, zap.NewNop())
	auditSvc := noopAuditService{}
	guard := accessguard.New(accessguard.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      config.Config{AdminAddresses: []string{"admin"}},
		Outbox:   outbox,
		AuditSvc: auditSvc,
	})
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := productservice.NewService(productservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Guard:    guard,
		Outbox:   outbox,
		AuditSvc: auditSvc,
		Repo:     productrepo.Provide(),
	})

	return &fixture{db: db, guard: guard, clock: clk, svc: svc}
}

func registerRequest(batch string) productdomain.RegisterRequest {
	return productdomain.RegisterRequest{
		Name:           "Amoxicillin 500mg",
		ProductType:    "pharmaceutical",
		BatchNumber:    batch,
		ManufacturedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:      time.Date(2027, 5, 1, 0, 0, 0, 0, time.UTC),
		RawMaterials:   []string{"amoxicillin trihydrate"},
		Caller:         "acme-pharma",
	}
}

func TestRegisterSeedsStakeholderAndCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.svc.Register(ctx, registerRequest("BATCH-001"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.Manufacturer != "acme-pharma" {
		t.Fatalf("manufacturer = %q, want acme-pharma", resp.Manufacturer)
	}
	if len(resp.Stakeholders) != 1 || resp.Stakeholders[0] != "acme-pharma" {
		t.Fatalf("stakeholders = %v, want [acme-pharma]", resp.Stakeholders)
	}

	checkpoints, err := f.svc.Checkpoints(ctx, resp.ID)
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if len(checkpoints) != 1 {
		t.Fatalf("checkpoints = %d, want 1", len(checkpoints))
	}
	if checkpoints[0].Seq != 0 || checkpoints[0].Status != productdomain.StatusManufactured {
		t.Fatalf("initial checkpoint = seq %d status %q", checkpoints[0].Seq, checkpoints[0].Status)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM outbox_events WHERE event_type = 'product.registered'", 1)
}

func TestRegisterRejectsDuplicateBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Register(ctx, registerRequest("BATCH-001")); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := f.svc.Register(ctx, registerRequest("BATCH-001"))
	if !errors.Is(err, productdomain.ErrDuplicateBatch) {
		t.Fatalf("err = %v, want ErrDuplicateBatch", err)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM products", 1)
}

func TestRegisterValidatesTimestamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := registerRequest("BATCH-002")
	req.ExpiresAt = req.ManufacturedAt
	if _, err := f.svc.Register(ctx, req); !errors.Is(err, productdomain.ErrInvalidTimestamps) {
		t.Fatalf("err = %v, want ErrInvalidTimestamps", err)
	}
}

func TestCheckpointAuthorizationFollowsStakeholderSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.svc.Register(ctx, registerRequest("BATCH-003"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = f.svc.AddCheckpoint(ctx, productdomain.CheckpointRequest{
		ProductID: resp.ID,
		Status:    "in_transit",
		Location:  "warehouse-7",
		Caller:    "freight-co",
	})
	if !errors.Is(err, accessguard.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	if err := f.svc.AddStakeholder(ctx, productdomain.StakeholderRequest{
		ProductID: resp.ID,
		Address:   "freight-co",
		Caller:    "acme-pharma",
	}); err != nil {
		t.Fatalf("add stakeholder: %v", err)
	}

	checkpoint, err := f.svc.AddCheckpoint(ctx, productdomain.CheckpointRequest{
		ProductID: resp.ID,
		Status:    "in_transit",
		Location:  "warehouse-7",
		Telemetry: map[string]any{"temp_c": 4.2},
		Caller:    "freight-co",
	})
	if err != nil {
		t.Fatalf("checkpoint after grant: %v", err)
	}
	if checkpoint.Seq != 1 {
		t.Fatalf("seq = %d, want 1", checkpoint.Seq)
	}
}

func TestAddStakeholderRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.svc.Register(ctx, registerRequest("BATCH-004"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	err = f.svc.AddStakeholder(ctx, productdomain.StakeholderRequest{
		ProductID: resp.ID,
		Address:   "acme-pharma",
		Caller:    "acme-pharma",
	})
	if !errors.Is(err, productdomain.ErrAlreadyStakeholder) {
		t.Fatalf("err = %v, want ErrAlreadyStakeholder", err)
	}
}

func TestDeactivateBlocksCheckpoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.svc.Register(ctx, registerRequest("BATCH-005"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := f.svc.Deactivate(ctx, resp.ID, "admin"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	// repeat deactivation is a no-op
	if err := f.svc.Deactivate(ctx, resp.ID, "admin"); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}

	_, err = f.svc.AddCheckpoint(ctx, productdomain.CheckpointRequest{
		ProductID: resp.ID,
		Status:    "in_transit",
		Location:  "warehouse-7",
		Caller:    "acme-pharma",
	})
	if !errors.Is(err, productdomain.ErrInactive) {
		t.Fatalf("err = %v, want ErrInactive", err)
	}

	// history stays readable
	if _, err := f.svc.Checkpoints(ctx, resp.ID); err != nil {
		t.Fatalf("checkpoints after deactivate: %v", err)
	}
}

func TestIDByBatchReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.IDByBatch(ctx, "NO-SUCH-BATCH"); !errors.Is(err, productdomain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	resp, err := f.svc.Register(ctx, registerRequest("BATCH-006"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	id, err := f.svc.IDByBatch(ctx, "BATCH-006")
	if err != nil {
		t.Fatalf("id by batch: %v", err)
	}
	if id != resp.ID {
		t.Fatalf("id = %d, want %d", id, resp.ID)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.guard.Pause(ctx, "admin"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	_, err := f.svc.Register(ctx, registerRequest("BATCH-007"))
	if !errors.Is(err, accessguard.ErrSystemPaused) {
		t.Fatalf("err = %v, want ErrSystemPaused", err)
	}

	if err := f.guard.Unpause(ctx, "admin"); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := f.svc.Register(ctx, registerRequest("BATCH-007")); err != nil {
		t.Fatalf("register after unpause: %v", err)
	}
}

func TestMutationsWriteAuditTrail(t *testing.T) {
	ctx := context.Background()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(17)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	outbox := events.NewOutbox(db, zap.NewNop())
	guard := accessguard.New(accessguard.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      config.Config{AdminAddresses: []string{"admin"}},
		Outbox:   outbox,
		AuditSvc: auditSvc,
	})
	svc := productservice.NewService(productservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Guard:    guard,
		Outbox:   outbox,
		AuditSvc: auditSvc,
		Repo:     productrepo.Provide(),
	})

	resp, err := svc.Register(ctx, registerRequest("BATCH-AUD"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.AddCheckpoint(ctx, productdomain.CheckpointRequest{
		ProductID: resp.ID,
		Status:    "in_transit",
		Location:  "warehouse-7",
		Caller:    "acme-pharma",
	}); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'product.registered'", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'checkpoint.added'", 1)
}

func TestConcurrentRegistrationSameBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, registerRequest("BATCH-RACE"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, productdomain.ErrDuplicateBatch):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || duplicates != attempts-1 {
		t.Fatalf("succeeded = %d, duplicates = %d, want 1 and %d", succeeded, duplicates, attempts-1)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM products WHERE batch_number = 'BATCH-RACE'", 1)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_product_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)`,
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
