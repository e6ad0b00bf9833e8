package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	EnsureAccount(ctx context.Context, db *gorm.DB, addr string, now time.Time) error
	FindAccount(ctx context.Context, db *gorm.DB, addr string, forUpdate bool) (*Account, error)
	CreditAvailable(ctx context.Context, db *gorm.DB, addr string, amount int64, now time.Time) error
	HoldFunds(ctx context.Context, db *gorm.DB, addr string, amount int64, now time.Time) (bool, error)
	ReleaseHeld(ctx context.Context, db *gorm.DB, addr string, amount int64, now time.Time) (bool, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*Payment, error)
	MarkDisputed(ctx context.Context, db *gorm.DB, id int64) error
	MarkCompleted(ctx context.Context, db *gorm.DB, id int64, releasedAt time.Time) error

	InsertDispute(ctx context.Context, db *gorm.DB, dispute *Dispute) (bool, error)
	FindDispute(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*Dispute, error)
	MarkResolved(ctx context.Context, db *gorm.DB, id int64, favorPayer bool, arbitrator string, resolvedAt time.Time) error

	SumHeld(ctx context.Context, db *gorm.DB) (int64, error)
	SumOutstanding(ctx context.Context, db *gorm.DB) (int64, error)
}
