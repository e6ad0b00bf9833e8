package repository

import (
	"context"

	"github.com/smallbiznis/provenance/internal/certificate/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, product_id, holder, cert_type, standards, issuer, issued_at,
	expires_at, valid, verification_code, metadata_ref, invalidated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cert *domain.Certificate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO certificates (
			id, product_id, holder, cert_type, standards, issuer, issued_at,
			expires_at, valid, verification_code, metadata_ref, invalidated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		cert.ID,
		cert.ProductID,
		cert.Holder,
		cert.CertType,
		cert.Standards,
		cert.Issuer,
		cert.IssuedAt,
		cert.ExpiresAt,
		cert.Valid,
		cert.VerificationCode,
		cert.MetadataRef,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64, forUpdate bool) (*domain.Certificate, error) {
	query := `SELECT ` + selectColumns + ` FROM certificates WHERE id = ?`
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var cert domain.Certificate
	if err := db.WithContext(ctx).Raw(query, id).Scan(&cert).Error; err != nil {
		return nil, err
	}
	if cert.ID == 0 {
		return nil, nil
	}
	return &cert, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM certificates WHERE verification_code = ?`,
		code,
	).Scan(&cert).Error
	if err != nil {
		return nil, err
	}
	if cert.ID == 0 {
		return nil, nil
	}
	return &cert, nil
}

func (r *repo) ExistsForProduct(ctx context.Context, db *gorm.DB, productID int64) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM certificates WHERE product_id = ?`,
		productID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ExistsCode(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM certificates WHERE verification_code = ?`,
		code,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Invalidate(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE certificates SET valid = ?, invalidated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		false,
		id,
	).Error
}
