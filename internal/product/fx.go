package product

import (
	"context"

	"github.com/smallbiznis/provenance/internal/accessguard"
	"github.com/smallbiznis/provenance/internal/product/domain"
	"github.com/smallbiznis/provenance/internal/product/repository"
	"github.com/smallbiznis/provenance/internal/product/service"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("product.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(wireDirectory),
)

// directory adapts the product repository to the guard's stakeholder lookup.
type directory struct {
	db   *gorm.DB
	repo domain.Repository
}

func (d *directory) IsStakeholder(ctx context.Context, productID int64, addr string) (bool, error) {
	return d.repo.IsStakeholder(ctx, d.db, productID, addr)
}

func wireDirectory(db *gorm.DB, repo domain.Repository, guard *accessguard.Guard) {
	guard.SetDirectory(&directory{db: db, repo: repo})
}
