package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cert *Certificate) error
	FindByID(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*Certificate, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Certificate, error)
	ExistsForProduct(ctx context.Context, db *gorm.DB, productID int64) (bool, error)
	ExistsCode(ctx context.Context, db *gorm.DB, code string) (bool, error)
	Invalidate(ctx context.Context, db *gorm.DB, id int64) error
}
