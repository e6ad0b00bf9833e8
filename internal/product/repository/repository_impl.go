package repository

import (
	"context"

	"github.com/smallbiznis/provenance/internal/product/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (
			id, name, product_type, manufacturer, batch_number, manufactured_at,
			expires_at, raw_materials, metadata_ref, active, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.Name,
		product.ProductType,
		product.Manufacturer,
		product.BatchNumber,
		product.ManufacturedAt,
		product.ExpiresAt,
		product.RawMaterials,
		product.MetadataRef,
		product.Active,
		product.Metadata,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*domain.Product, error) {
	query := `SELECT id, name, product_type, manufacturer, batch_number, manufactured_at,
		expires_at, raw_materials, metadata_ref, active, metadata, created_at, updated_at
	 FROM products WHERE id = ?`
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var p domain.Product
	if err := db.WithContext(ctx).Raw(query, id).Scan(&p).Error; err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindIDByBatch(ctx context.Context, db *gorm.DB, batchNumber string) (int64, error) {
	var id int64
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM products WHERE batch_number = ?`,
		batchNumber,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) ListByStakeholder(ctx context.Context, db *gorm.DB, addr string) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT p.id, p.name, p.product_type, p.manufacturer, p.batch_number, p.manufactured_at,
			p.expires_at, p.raw_materials, p.metadata_ref, p.active, p.metadata, p.created_at, p.updated_at
		 FROM products p
		 JOIN product_stakeholders s ON s.product_id = p.id
		 WHERE s.address = ?
		 ORDER BY p.created_at ASC`,
		addr,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id int64, active bool) error {
	return db.WithContext(ctx).Exec(
		`UPDATE products SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active,
		id,
	).Error
}

func (r *repo) InsertStakeholder(ctx context.Context, db *gorm.DB, stakeholder *domain.Stakeholder) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO product_stakeholders (product_id, address, added_by, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (product_id, address) DO NOTHING`,
		stakeholder.ProductID,
		stakeholder.Address,
		stakeholder.AddedBy,
		stakeholder.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IsStakeholder(ctx context.Context, db *gorm.DB, productID int64, addr string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM product_stakeholders WHERE product_id = ? AND address = ?`,
		productID,
		addr,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListStakeholders(ctx context.Context, db *gorm.DB, productID int64) ([]string, error) {
	var addrs []string
	err := db.WithContext(ctx).Raw(
		`SELECT address FROM product_stakeholders WHERE product_id = ? ORDER BY created_at ASC, address ASC`,
		productID,
	).Scan(&addrs).Error
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

func (r *repo) InsertCheckpoint(ctx context.Context, db *gorm.DB, checkpoint *domain.Checkpoint) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO checkpoints (id, product_id, seq, status, location, actor, telemetry, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		checkpoint.ID,
		checkpoint.ProductID,
		checkpoint.Seq,
		checkpoint.Status,
		checkpoint.Location,
		checkpoint.Actor,
		checkpoint.Telemetry,
		checkpoint.RecordedAt,
	).Error
}

func (r *repo) CountCheckpoints(ctx context.Context, db *gorm.DB, productID int64) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM checkpoints WHERE product_id = ?`,
		productID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ListCheckpoints(ctx context.Context, db *gorm.DB, productID int64) ([]domain.Checkpoint, error) {
	var items []domain.Checkpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, product_id, seq, status, location, actor, telemetry, recorded_at
		 FROM checkpoints WHERE product_id = ? ORDER BY seq ASC`,
		productID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
