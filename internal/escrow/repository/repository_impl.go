package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/provenance/internal/escrow/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureAccount(ctx context.Context, db *gorm.DB, addr string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO escrow_accounts (address, available, held, updated_at)
		 VALUES (?, 0, 0, ?)
		 ON CONFLICT (address) DO NOTHING`,
		addr,
		now,
	).Error
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, addr string, forUpdate bool) (*domain.Account, error) {
	query := `SELECT address, available, held, updated_at FROM escrow_accounts WHERE address = ?`
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var account domain.Account
	if err := db.WithContext(ctx).Raw(query, addr).Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.Address == "" {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) CreditAvailable(ctx context.Context, db *gorm.DB, addr string, amount int64, now time.Time) error {
	if err := r.EnsureAccount(ctx, db, addr, now); err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE escrow_accounts SET available = available + ?, updated_at = ? WHERE address = ?`,
		amount,
		now,
		addr,
	).Error
}

// HoldFunds moves amount from available into held. The guard in the WHERE
// clause makes overdraw impossible even under concurrent writers.
func (r *repo) HoldFunds(ctx context.Context, db *gorm.DB, addr string, amount int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE escrow_accounts
		 SET available = available - ?, held = held + ?, updated_at = ?
		 WHERE address = ? AND available >= ?`,
		amount,
		amount,
		now,
		addr,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseHeld removes amount from held without crediting anyone; the caller
// credits the receiving side separately inside the same transaction.
func (r *repo) ReleaseHeld(ctx context.Context, db *gorm.DB, addr string, amount int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE escrow_accounts
		 SET held = held - ?, updated_at = ?
		 WHERE address = ? AND held >= ?`,
		amount,
		now,
		addr,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO escrow_payments (
			id, payer, payee, amount, fee, product_id, kind, conditions,
			completed, disputed, created_at, due_at, released_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		payment.ID,
		payment.Payer,
		payment.Payee,
		payment.Amount,
		payment.Fee,
		payment.ProductID,
		payment.Kind,
		payment.Conditions,
		payment.Completed,
		payment.Disputed,
		payment.CreatedAt,
		payment.DueAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*domain.Payment, error) {
	query := `SELECT id, payer, payee, amount, fee, product_id, kind, conditions,
		completed, disputed, created_at, due_at, released_at
	 FROM escrow_payments WHERE id = ?`
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var payment domain.Payment
	if err := db.WithContext(ctx).Raw(query, id).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) MarkDisputed(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE escrow_payments SET disputed = true WHERE id = ?`,
		id,
	).Error
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id int64, releasedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE escrow_payments SET completed = true, released_at = ? WHERE id = ?`,
		releasedAt,
		id,
	).Error
}

func (r *repo) InsertDispute(ctx context.Context, db *gorm.DB, dispute *domain.Dispute) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO escrow_disputes (
			id, payment_id, initiator, reason, resolved, favor_payer, arbitrator, created_at, resolved_at
		) VALUES (?, ?, ?, ?, false, false, '', ?, NULL)
		 ON CONFLICT (payment_id) DO NOTHING`,
		dispute.ID,
		dispute.PaymentID,
		dispute.Initiator,
		dispute.Reason,
		dispute.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindDispute(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*domain.Dispute, error) {
	query := `SELECT id, payment_id, initiator, reason, resolved, favor_payer, arbitrator, created_at, resolved_at
	 FROM escrow_disputes WHERE id = ?`
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var dispute domain.Dispute
	if err := db.WithContext(ctx).Raw(query, id).Scan(&dispute).Error; err != nil {
		return nil, err
	}
	if dispute.ID == 0 {
		return nil, nil
	}
	return &dispute, nil
}

func (r *repo) MarkResolved(ctx context.Context, db *gorm.DB, id int64, favorPayer bool, arbitrator string, resolvedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE escrow_disputes
		 SET resolved = true, favor_payer = ?, arbitrator = ?, resolved_at = ?
		 WHERE id = ?`,
		favorPayer,
		arbitrator,
		resolvedAt,
		id,
	).Error
}

func (r *repo) SumHeld(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(held), 0) FROM escrow_accounts`,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) SumOutstanding(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount + fee), 0) FROM escrow_payments WHERE completed = false`,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
