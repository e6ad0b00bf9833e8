package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Certificate is an authenticity attestation for a product. At most one
// certificate exists per product; revocation flips Valid off and is one-way.
type Certificate struct {
	ID               int64          `json:"id,string" gorm:"primaryKey"`
	ProductID        int64          `json:"product_id,string" gorm:"not null;uniqueIndex:ux_certificates_product"`
	Holder           string         `json:"holder" gorm:"type:text;not null"`
	CertType         string         `json:"cert_type" gorm:"type:text;not null"`
	Standards        datatypes.JSON `json:"standards,omitempty" gorm:"type:jsonb"`
	Issuer           string         `json:"issuer" gorm:"type:text;not null"`
	IssuedAt         time.Time      `json:"issued_at" gorm:"not null"`
	ExpiresAt        time.Time      `json:"expires_at" gorm:"not null"`
	Valid            bool           `json:"valid" gorm:"not null;default:true"`
	VerificationCode string         `json:"verification_code" gorm:"type:text;not null;uniqueIndex:ux_certificates_code"`
	MetadataRef      *string        `json:"metadata_ref,omitempty" gorm:"type:text"`
	InvalidatedAt    *time.Time     `json:"invalidated_at,omitempty"`
}

// TableName sets the database table name.
func (Certificate) TableName() string { return "certificates" }

// Verification outcome reasons.
const (
	ReasonValid       = "valid"
	ReasonInvalidated = "invalidated"
	ReasonExpired     = "expired"
)
