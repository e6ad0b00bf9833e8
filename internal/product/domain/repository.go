package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*Product, error)
	FindIDByBatch(ctx context.Context, db *gorm.DB, batchNumber string) (int64, error)
	ListByStakeholder(ctx context.Context, db *gorm.DB, addr string) ([]Product, error)
	SetActive(ctx context.Context, db *gorm.DB, id int64, active bool) error

	InsertStakeholder(ctx context.Context, db *gorm.DB, stakeholder *Stakeholder) (bool, error)
	IsStakeholder(ctx context.Context, db *gorm.DB, productID int64, addr string) (bool, error)
	ListStakeholders(ctx context.Context, db *gorm.DB, productID int64) ([]string, error)

	InsertCheckpoint(ctx context.Context, db *gorm.DB, checkpoint *Checkpoint) error
	CountCheckpoints(ctx context.Context, db *gorm.DB, productID int64) (int64, error)
	ListCheckpoints(ctx context.Context, db *gorm.DB, productID int64) ([]Checkpoint, error)
}
