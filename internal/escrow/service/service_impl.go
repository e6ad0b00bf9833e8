package service

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provenance/internal/accessguard"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/internal/clock"
	"github.com/smallbiznis/provenance/internal/config"
	"github.com/smallbiznis/provenance/internal/escrow/domain"
	"github.com/smallbiznis/provenance/internal/events"
	"github.com/smallbiznis/provenance/internal/locks"
	"github.com/smallbiznis/provenance/internal/observability/metrics"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	feeSettingKey  = "platform_fee_bps"
	maxFeeBps      = 1000
	releaseLockTTL = 30 * time.Second
)

type Params struct {
	fx.In

	LC          fx.Lifecycle
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Guard       *accessguard.Guard
	Outbox      *events.Outbox
	AuditSvc    auditdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
	Locker      *locks.Locker    `optional:"true"`
	Repo        domain.Repository
	ProductRepo productdomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	guard        *accessguard.Guard
	outbox       *events.Outbox
	auditSvc     auditdomain.Service
	metrics      *metrics.Metrics
	locker       *locks.Locker
	repo         domain.Repository
	productRepo  productdomain.Repository
	feeRecipient string
	holdPeriod   time.Duration
	feeBps       atomic.Int64
}

func NewService(p Params) domain.Service {
	s := &Service{
		db:           p.DB,
		log:          p.Log.Named("escrow.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		guard:        p.Guard,
		outbox:       p.Outbox,
		auditSvc:     p.AuditSvc,
		metrics:      p.Metrics,
		locker:       p.Locker,
		repo:         p.Repo,
		productRepo:  p.ProductRepo,
		feeRecipient: strings.ToLower(strings.TrimSpace(p.Cfg.FeeRecipient)),
		holdPeriod:   p.Cfg.MinimumHoldPeriod,
	}
	s.feeBps.Store(p.Cfg.PlatformFeeBps)

	if p.LC != nil {
		p.LC.Append(fx.Hook{OnStart: s.loadFee})
	}
	return s
}

// loadFee restores a fee override persisted by SetPlatformFee. The configured
// default applies on first boot.
func (s *Service) loadFee(ctx context.Context) error {
	var value string
	err := s.db.WithContext(ctx).Raw(
		`SELECT value FROM system_settings WHERE key = ?`,
		feeSettingKey,
	).Scan(&value).Error
	if err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	bps, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		s.log.Warn("ignoring malformed fee setting", zap.String("value", value))
		return nil
	}
	s.feeBps.Store(bps)
	return nil
}

// Deposit credits an account's available balance. Admin only; this is how
// funds enter the system in lieu of a real payment rail.
func (s *Service) Deposit(ctx context.Context, addr string, amount int64, caller string) (*domain.Account, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}
	caller = normalize(caller)
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	addr = normalize(addr)
	if addr == "" {
		return nil, domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	var account *domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreditAvailable(ctx, tx, addr, amount, now); err != nil {
			return err
		}
		var err error
		account, err = s.repo.FindAccount(ctx, tx, addr, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEscrowOperation("deposit")
	s.log.Info("account funded", zap.String("address", addr), zap.Int64("amount", amount))

	if err := s.auditSvc.AuditLog(ctx, caller, "escrow.deposit", "escrow_account", &addr, map[string]any{
		"amount": amount,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return account, nil
}

// CreateEscrow opens a payment, capturing amount plus fee from the payer's
// available balance into held in the same transaction.
func (s *Service) CreateEscrow(ctx context.Context, req domain.CreateRequest) (*domain.Payment, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}

	payer := normalize(req.Caller)
	payee := normalize(req.Payee)
	if payer == "" || payee == "" {
		return nil, domain.ErrInvalidAddress
	}
	if payer == payee {
		return nil, domain.ErrSelfPayment
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.ProductID <= 0 {
		return nil, domain.ErrInvalidID
	}

	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		kind = domain.KindStandard
	}

	now := s.clock.Now()
	fee := req.Amount * s.feeBps.Load() / 10000
	payment := &domain.Payment{
		ID:         s.genID.Generate().Int64(),
		Payer:      payer,
		Payee:      payee,
		Amount:     req.Amount,
		Fee:        fee,
		ProductID:  req.ProductID,
		Kind:       kind,
		Conditions: strings.TrimSpace(req.Conditions),
		CreatedAt:  now,
	}
	if req.DueAt != nil {
		due := req.DueAt.UTC()
		payment.DueAt = &due
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.productRepo.FindByID(ctx, tx, req.ProductID, false)
		if err != nil {
			return err
		}
		if product == nil {
			return domain.ErrNotFound
		}

		held, err := s.repo.HoldFunds(ctx, tx, payer, req.Amount+fee, now)
		if err != nil {
			return err
		}
		if !held {
			return domain.ErrInsufficientFunds
		}

		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventPaymentCreated,
			Payload: map[string]any{
				"payment_id": strconv.FormatInt(payment.ID, 10),
				"payer":      payer,
				"payee":      payee,
				"amount":     req.Amount,
				"fee":        fee,
				"product_id": strconv.FormatInt(req.ProductID, 10),
			},
			DedupeKey: "payment.created:" + strconv.FormatInt(payment.ID, 10),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEscrowOperation("create")
	s.log.Info("escrow payment created",
		zap.Int64("payment_id", payment.ID),
		zap.String("payer", payer),
		zap.String("payee", payee),
		zap.Int64("amount", req.Amount),
		zap.Int64("fee", fee),
	)

	targetID := strconv.FormatInt(payment.ID, 10)
	if err := s.auditSvc.AuditLog(ctx, payer, "escrow.payment_created", "escrow_payment", &targetID, map[string]any{
		"payee":  payee,
		"amount": req.Amount,
		"fee":    fee,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return payment, nil
}

// Release settles the payment to the payee once the hold period has elapsed.
// Payer-initiated only; never automatic. The row lock plus the optional redis
// mutex make settlement exactly-once across replicas.
func (s *Service) Release(ctx context.Context, paymentID int64, caller string) error {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return err
	}
	if paymentID <= 0 {
		return domain.ErrInvalidID
	}
	caller = normalize(caller)

	lockKey := "escrow:settle:" + strconv.FormatInt(paymentID, 10)
	token, ok, err := s.locker.TryLock(ctx, lockKey, releaseLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrBusy
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("failed to release settlement lock", zap.Error(err))
		}
	}()

	now := s.clock.Now()
	var payment *domain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.repo.FindPayment(ctx, tx, paymentID, true)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Completed {
			return domain.ErrAlreadyCompleted
		}
		if payment.Disputed {
			return domain.ErrDisputed
		}
		if payment.Payer != caller {
			return accessguard.ErrUnauthorized
		}
		if now.Before(payment.CreatedAt.Add(s.holdPeriod)) {
			return domain.ErrHoldPeriodNotElapsed
		}

		return s.settle(ctx, tx, payment, false, now)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordEscrowOperation("release")
	s.log.Info("escrow payment released",
		zap.Int64("payment_id", paymentID),
		zap.String("payee", payment.Payee),
		zap.Int64("amount", payment.Amount),
	)

	targetID := strconv.FormatInt(paymentID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "escrow.payment_released", "escrow_payment", &targetID, map[string]any{
		"payee":  payment.Payee,
		"amount": payment.Amount,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

// InitiateDispute freezes a payment pending arbitration. Payer or payee; one
// dispute per payment, enforced by the unique index.
func (s *Service) InitiateDispute(ctx context.Context, req domain.DisputeRequest) (*domain.Dispute, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}
	if req.PaymentID <= 0 {
		return nil, domain.ErrInvalidID
	}
	caller := normalize(req.Caller)
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrEmptyField
	}

	dispute := &domain.Dispute{
		ID:        s.genID.Generate().Int64(),
		PaymentID: req.PaymentID,
		Initiator: caller,
		Reason:    reason,
		CreatedAt: s.clock.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindPayment(ctx, tx, req.PaymentID, true)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Completed {
			return domain.ErrAlreadyCompleted
		}
		if payment.Disputed {
			return domain.ErrAlreadyDisputed
		}
		if caller != payment.Payer && caller != payment.Payee {
			return accessguard.ErrUnauthorized
		}

		inserted, err := s.repo.InsertDispute(ctx, tx, dispute)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyDisputed
		}
		if err := s.repo.MarkDisputed(ctx, tx, req.PaymentID); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventDisputeInitiated,
			Payload: map[string]any{
				"dispute_id": strconv.FormatInt(dispute.ID, 10),
				"payment_id": strconv.FormatInt(req.PaymentID, 10),
				"initiator":  caller,
			},
			DedupeKey: "dispute.initiated:" + strconv.FormatInt(req.PaymentID, 10),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEscrowOperation("dispute")
	s.log.Info("dispute initiated",
		zap.Int64("dispute_id", dispute.ID),
		zap.Int64("payment_id", req.PaymentID),
		zap.String("initiator", caller),
	)

	targetID := strconv.FormatInt(dispute.ID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "escrow.dispute_initiated", "escrow_dispute", &targetID, map[string]any{
		"payment_id": strconv.FormatInt(req.PaymentID, 10),
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return dispute, nil
}

// ResolveDispute settles a frozen payment exactly once. Admin only, and works
// while the system is paused so arbitration is never blocked.
func (s *Service) ResolveDispute(ctx context.Context, disputeID int64, favorPayer bool, caller string) error {
	caller = normalize(caller)
	if err := s.guard.RequireAdmin(caller); err != nil {
		return err
	}
	if disputeID <= 0 {
		return domain.ErrInvalidID
	}

	now := s.clock.Now()
	var paymentID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dispute, err := s.repo.FindDispute(ctx, tx, disputeID, true)
		if err != nil {
			return err
		}
		if dispute == nil {
			return domain.ErrNotFound
		}
		if dispute.Resolved {
			return domain.ErrAlreadyResolved
		}
		paymentID = dispute.PaymentID

		payment, err := s.repo.FindPayment(ctx, tx, dispute.PaymentID, true)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Completed {
			return domain.ErrAlreadyCompleted
		}

		if err := s.settle(ctx, tx, payment, favorPayer, now); err != nil {
			return err
		}
		if err := s.repo.MarkResolved(ctx, tx, disputeID, favorPayer, caller, now); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventDisputeResolved,
			Payload: map[string]any{
				"dispute_id":  strconv.FormatInt(disputeID, 10),
				"payment_id":  strconv.FormatInt(dispute.PaymentID, 10),
				"favor_payer": favorPayer,
				"arbitrator":  caller,
				"amount":      payment.Amount,
				"fee":         payment.Fee,
			},
			DedupeKey: "dispute.resolved:" + strconv.FormatInt(disputeID, 10),
		})
	})
	if err != nil {
		return err
	}

	s.metrics.RecordEscrowOperation("resolve")
	s.log.Info("dispute resolved",
		zap.Int64("dispute_id", disputeID),
		zap.Int64("payment_id", paymentID),
		zap.Bool("favor_payer", favorPayer),
		zap.String("arbitrator", caller),
	)

	targetID := strconv.FormatInt(disputeID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "escrow.dispute_resolved", "escrow_dispute", &targetID, map[string]any{
		"favor_payer": favorPayer,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

// settle moves the held amount+fee out of the payer's account and credits the
// winning side. refund=true sends everything back to the payer; otherwise the
// payee gets the amount and the platform keeps the fee. Runs inside the
// caller's transaction and marks the payment completed.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, payment *domain.Payment, refund bool, now time.Time) error {
	total := payment.Amount + payment.Fee

	released, err := s.repo.ReleaseHeld(ctx, tx, payment.Payer, total, now)
	if err != nil {
		return err
	}
	if !released {
		return domain.ErrInvariantViolation
	}

	if refund {
		if err := s.repo.CreditAvailable(ctx, tx, payment.Payer, total, now); err != nil {
			return err
		}
	} else {
		if err := s.repo.CreditAvailable(ctx, tx, payment.Payee, payment.Amount, now); err != nil {
			return err
		}
		if payment.Fee > 0 && s.feeRecipient != "" {
			if err := s.repo.CreditAvailable(ctx, tx, s.feeRecipient, payment.Fee, now); err != nil {
				return err
			}
		}
	}

	if err := s.repo.MarkCompleted(ctx, tx, payment.ID, now); err != nil {
		return err
	}

	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type: events.EventPaymentReleased,
		Payload: map[string]any{
			"payment_id": strconv.FormatInt(payment.ID, 10),
			"payer":      payment.Payer,
			"payee":      payment.Payee,
			"amount":     payment.Amount,
			"fee":        payment.Fee,
			"refunded":   refund,
		},
		DedupeKey: "payment.released:" + strconv.FormatInt(payment.ID, 10),
	})
}

// SetPlatformFee updates the fee for future payments. Existing payments keep
// the fee captured at creation.
func (s *Service) SetPlatformFee(ctx context.Context, bps int64, caller string) error {
	caller = normalize(caller)
	if err := s.guard.RequireAdmin(caller); err != nil {
		return err
	}
	if bps < 0 {
		return domain.ErrInvalidAmount
	}
	if bps > maxFeeBps {
		return domain.ErrFeeTooHigh
	}

	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO system_settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		feeSettingKey,
		strconv.FormatInt(bps, 10),
	).Error
	if err != nil {
		return err
	}
	s.feeBps.Store(bps)

	s.log.Info("platform fee updated", zap.Int64("bps", bps), zap.String("actor", caller))

	if err := s.auditSvc.AuditLog(ctx, caller, "escrow.fee_updated", "system", nil, map[string]any{
		"bps": bps,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) Account(ctx context.Context, addr string) (*domain.Account, error) {
	addr = normalize(addr)
	if addr == "" {
		return nil, domain.ErrInvalidAddress
	}
	account, err := s.repo.FindAccount(ctx, s.db, addr, false)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &domain.Account{Address: addr}, nil
	}
	return account, nil
}

func (s *Service) Payment(ctx context.Context, id int64) (*domain.Payment, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}
	payment, err := s.repo.FindPayment(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) PlatformFeeBps() int64 {
	return s.feeBps.Load()
}

// VerifySolvency checks that total held funds equal the outstanding escrow
// obligations. Any drift means a settlement bug.
func (s *Service) VerifySolvency(ctx context.Context) error {
	var held, outstanding int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if held, err = s.repo.SumHeld(ctx, tx); err != nil {
			return err
		}
		outstanding, err = s.repo.SumOutstanding(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}
	if held != outstanding {
		s.log.Error("solvency check failed",
			zap.Int64("held", held),
			zap.Int64("outstanding", outstanding),
		)
		return domain.ErrInvariantViolation
	}
	return nil
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
