package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/provenance/internal/accessguard"
	auditrepo "github.com/smallbiznis/provenance/internal/audit/repository"
	auditservice "github.com/smallbiznis/provenance/internal/audit/service"
	"github.com/smallbiznis/provenance/internal/clock"
	"github.com/smallbiznis/provenance/internal/config"
	escrowdomain "github.com/smallbiznis/provenance/internal/escrow/domain"
	escrowrepo "github.com/smallbiznis/provenance/internal/escrow/repository"
	escrowservice "github.com/smallbiznis/provenance/internal/escrow/service"
	"github.com/smallbiznis/provenance/internal/events"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	productrepo "github.com/smallbiznis/provenance/internal/product/repository"
	productservice "github.com/smallbiznis/provenance/internal/product/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	guard     *accessguard.Guard
	clock     *clock.FakeClock
	svc       escrowdomain.Service
	productID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(15)
	require.NoError(t, err)

	cfg := config.Config{
		AdminAddresses:    []string{"admin"},
		FeeRecipient:      "platform",
		PlatformFeeBps:    250,
		MinimumHoldPeriod: 24 * time.Hour,
	}

	outbox := events.NewOutbox(db, zap.NewNop())
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	guard := accessguard.New(accessguard.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
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
		Name:           "Watch Caliber 9",
		ProductType:    "luxury",
		BatchNumber:    "WATCH-009",
		ManufacturedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:      time.Date(2045, 2, 1, 0, 0, 0, 0, time.UTC),
		Caller:         "seller",
	})
	require.NoError(t, err)

	svc := escrowservice.NewService(escrowservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Cfg:         cfg,
		Guard:       guard,
		Outbox:      outbox,
		AuditSvc:    auditSvc,
		Repo:        escrowrepo.Provide(),
		ProductRepo: productRepo,
	})

	return &fixture{db: db, guard: guard, clock: clk, svc: svc, productID: product.ID}
}

func (f *fixture) deposit(t *testing.T, addr string, amount int64) {
	t.Helper()
	_, err := f.svc.Deposit(context.Background(), addr, amount, "admin")
	require.NoError(t, err)
}

func (f *fixture) balances(t *testing.T, addr string) (available, held int64) {
	t.Helper()
	account, err := f.svc.Account(context.Background(), addr)
	require.NoError(t, err)
	return account.Available, account.Held
}

func TestDepositRequiresAdminAndPositiveAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Deposit(ctx, "buyer", 1000, "buyer")
	require.ErrorIs(t, err, accessguard.ErrUnauthorized)

	_, err = f.svc.Deposit(ctx, "buyer", 0, "admin")
	require.ErrorIs(t, err, escrowdomain.ErrInvalidAmount)

	// unknown accounts read as zero balances
	available, held := f.balances(t, "ghost")
	require.Zero(t, available)
	require.Zero(t, held)
}

func TestCreateEscrowCapturesAmountPlusFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "buyer", 100_000)

	payment, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    10_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.NoError(t, err)
	require.Equal(t, int64(250), payment.Fee)

	available, held := f.balances(t, "buyer")
	require.Equal(t, int64(89_750), available)
	require.Equal(t, int64(10_250), held)

	require.NoError(t, f.svc.VerifySolvency(ctx))
}

func TestCreateEscrowRejectsOverdraftAndSelfPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "buyer", 5_000)

	// 5000 + 125 fee exceeds the balance
	_, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    5_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.ErrorIs(t, err, escrowdomain.ErrInsufficientFunds)

	available, held := f.balances(t, "buyer")
	require.Equal(t, int64(5_000), available)
	require.Zero(t, held)

	_, err = f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "buyer",
		Amount:    1_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.ErrorIs(t, err, escrowdomain.ErrSelfPayment)

	_, err = f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    1_000,
		ProductID: f.productID + 1,
		Caller:    "buyer",
	})
	require.ErrorIs(t, err, escrowdomain.ErrNotFound)
}

func TestReleaseHonorsHoldPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "buyer", 100_000)

	payment, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    10_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.NoError(t, err)

	// too early
	err = f.svc.Release(ctx, payment.ID, "buyer")
	require.ErrorIs(t, err, escrowdomain.ErrHoldPeriodNotElapsed)

	// only the payer may release
	f.clock.Advance(25 * time.Hour)
	err = f.svc.Release(ctx, payment.ID, "seller")
	require.ErrorIs(t, err, accessguard.ErrUnauthorized)

	require.NoError(t, f.svc.Release(ctx, payment.ID, "buyer"))

	sellerAvailable, _ := f.balances(t, "seller")
	require.Equal(t, int64(10_000), sellerAvailable)
	platformAvailable, _ := f.balances(t, "platform")
	require.Equal(t, int64(250), platformAvailable)
	buyerAvailable, buyerHeld := f.balances(t, "buyer")
	require.Equal(t, int64(89_750), buyerAvailable)
	require.Zero(t, buyerHeld)

	err = f.svc.Release(ctx, payment.ID, "buyer")
	require.ErrorIs(t, err, escrowdomain.ErrAlreadyCompleted)

	require.NoError(t, f.svc.VerifySolvency(ctx))
}

func TestDisputeFreezesPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "buyer", 100_000)

	payment, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    10_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.NoError(t, err)

	// outsiders cannot dispute
	_, err = f.svc.InitiateDispute(ctx, escrowdomain.DisputeRequest{
		PaymentID: payment.ID,
		Reason:    "not my payment",
		Caller:    "stranger",
	})
	require.ErrorIs(t, err, accessguard.ErrUnauthorized)

	dispute, err := f.svc.InitiateDispute(ctx, escrowdomain.DisputeRequest{
		PaymentID: payment.ID,
		Reason:    "item not received",
		Caller:    "seller",
	})
	require.NoError(t, err)

	_, err = f.svc.InitiateDispute(ctx, escrowdomain.DisputeRequest{
		PaymentID: payment.ID,
		Reason:    "second thoughts",
		Caller:    "buyer",
	})
	require.ErrorIs(t, err, escrowdomain.ErrAlreadyDisputed)

	// a frozen payment cannot be released, even after the hold period
	f.clock.Advance(48 * time.Hour)
	err = f.svc.Release(ctx, payment.ID, "buyer")
	require.ErrorIs(t, err, escrowdomain.ErrDisputed)

	// arbitration still works while the system is paused
	require.NoError(t, f.guard.Pause(ctx, "admin"))
	require.NoError(t, f.svc.ResolveDispute(ctx, dispute.ID, true, "admin"))
	require.NoError(t, f.guard.Unpause(ctx, "admin"))

	// favoring the payer refunds amount plus fee
	buyerAvailable, buyerHeld := f.balances(t, "buyer")
	require.Equal(t, int64(100_000), buyerAvailable)
	require.Zero(t, buyerHeld)
	sellerAvailable, _ := f.balances(t, "seller")
	require.Zero(t, sellerAvailable)

	err = f.svc.ResolveDispute(ctx, dispute.ID, true, "admin")
	require.ErrorIs(t, err, escrowdomain.ErrAlreadyResolved)

	require.NoError(t, f.svc.VerifySolvency(ctx))
}

func TestResolveDisputeFavorsPayee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "buyer", 50_000)

	payment, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    20_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.NoError(t, err)

	dispute, err := f.svc.InitiateDispute(ctx, escrowdomain.DisputeRequest{
		PaymentID: payment.ID,
		Reason:    "quality claim",
		Caller:    "buyer",
	})
	require.NoError(t, err)

	err = f.svc.ResolveDispute(ctx, dispute.ID, false, "buyer")
	require.ErrorIs(t, err, accessguard.ErrUnauthorized)

	require.NoError(t, f.svc.ResolveDispute(ctx, dispute.ID, false, "admin"))

	sellerAvailable, _ := f.balances(t, "seller")
	require.Equal(t, int64(20_000), sellerAvailable)
	platformAvailable, _ := f.balances(t, "platform")
	require.Equal(t, int64(500), platformAvailable)

	require.NoError(t, f.svc.VerifySolvency(ctx))
}

func TestSetPlatformFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "buyer", 100_000)

	require.ErrorIs(t, f.svc.SetPlatformFee(ctx, 100, "buyer"), accessguard.ErrUnauthorized)
	require.ErrorIs(t, f.svc.SetPlatformFee(ctx, -1, "admin"), escrowdomain.ErrInvalidAmount)
	require.ErrorIs(t, f.svc.SetPlatformFee(ctx, 1500, "admin"), escrowdomain.ErrFeeTooHigh)

	require.NoError(t, f.svc.SetPlatformFee(ctx, 500, "admin"))
	require.Equal(t, int64(500), f.svc.PlatformFeeBps())

	payment, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    10_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.NoError(t, err)
	require.Equal(t, int64(500), payment.Fee)
}

func TestPaymentLifecycleWritesAuditTrail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "buyer", 100_000)

	payment, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    10_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.svc.Release(ctx, payment.ID, "buyer"))

	second, err := f.svc.CreateEscrow(ctx, escrowdomain.CreateRequest{
		Payee:     "seller",
		Amount:    5_000,
		ProductID: f.productID,
		Caller:    "buyer",
	})
	require.NoError(t, err)
	_, err = f.svc.InitiateDispute(ctx, escrowdomain.DisputeRequest{
		PaymentID: second.ID,
		Reason:    "damaged on arrival",
		Caller:    "buyer",
	})
	require.NoError(t, err)

	auditCount := func(action string) int64 {
		var count int64
		require.NoError(t, f.db.Raw(
			`SELECT COUNT(1) FROM audit_logs WHERE action = ?`, action,
		).Scan(&count).Error)
		return count
	}
	require.EqualValues(t, 2, auditCount("escrow.payment_created"))
	require.EqualValues(t, 1, auditCount("escrow.payment_released"))
	require.EqualValues(t, 1, auditCount("escrow.dispute_initiated"))
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_escrow_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

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
		`CREATE TABLE escrow_accounts (
			address TEXT PRIMARY KEY,
			available BIGINT NOT NULL DEFAULT 0,
			held BIGINT NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE escrow_payments (
			id BIGINT PRIMARY KEY,
			payer TEXT NOT NULL,
			payee TEXT NOT NULL,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL DEFAULT 0,
			product_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			conditions TEXT,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			disputed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			due_at DATETIME,
			released_at DATETIME
		)`,
		`CREATE TABLE escrow_disputes (
			id BIGINT PRIMARY KEY,
			payment_id BIGINT NOT NULL,
			initiator TEXT NOT NULL,
			reason TEXT NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			favor_payer BOOLEAN NOT NULL DEFAULT FALSE,
			arbitrator TEXT,
			created_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_escrow_disputes_payment ON escrow_disputes(payment_id)`,
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
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}
