package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	InsertRule(ctx context.Context, db *gorm.DB, rule *Rule) (bool, error)
	FindRule(ctx context.Context, db *gorm.DB, code string) (*Rule, error)
	ListRulesByProductType(ctx context.Context, db *gorm.DB, productType string, activeOnly bool) ([]Rule, error)
	SetRuleActive(ctx context.Context, db *gorm.DB, code string, active bool) error

	InsertCheck(ctx context.Context, db *gorm.DB, check *Check) error
	ListChecks(ctx context.Context, db *gorm.DB, productID int64) ([]Check, error)
	LatestCheckPerRule(ctx context.Context, db *gorm.DB, productID int64) (map[string]bool, error)

	FindStatus(ctx context.Context, db *gorm.DB, productID int64) (*Status, error)
	UpsertStatus(ctx context.Context, db *gorm.DB, status *Status) error
}
