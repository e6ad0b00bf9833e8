package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Product is the registered good being traced. Rows are never deleted; a
// product leaves circulation by flipping Active off.
type Product struct {
	ID             int64             `json:"id" gorm:"primaryKey"`
	Name           string            `json:"name" gorm:"type:text;not null"`
	ProductType    string            `json:"product_type" gorm:"type:text;not null;index"`
	Manufacturer   string            `json:"manufacturer" gorm:"type:text;not null"`
	BatchNumber    string            `json:"batch_number" gorm:"type:text;not null;uniqueIndex:ux_products_batch_number"`
	ManufacturedAt time.Time         `json:"manufactured_at" gorm:"not null"`
	ExpiresAt      time.Time         `json:"expires_at" gorm:"not null"`
	RawMaterials   datatypes.JSON    `json:"raw_materials,omitempty" gorm:"type:jsonb"`
	MetadataRef    *string           `json:"metadata_ref,omitempty" gorm:"type:text"`
	Active         bool              `json:"active" gorm:"not null;default:true"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

// Stakeholder is an identity authorized to append checkpoints for a product.
type Stakeholder struct {
	ProductID int64     `json:"product_id" gorm:"primaryKey;autoIncrement:false"`
	Address   string    `json:"address" gorm:"primaryKey;type:text"`
	AddedBy   string    `json:"added_by" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Stakeholder) TableName() string { return "product_stakeholders" }

// Checkpoint is an immutable movement/state event. Seq is dense per product,
// starting at 0 with the registration checkpoint.
type Checkpoint struct {
	ID         int64             `json:"id" gorm:"primaryKey"`
	ProductID  int64             `json:"product_id" gorm:"not null;uniqueIndex:ux_checkpoints_product_seq,priority:1"`
	Seq        int64             `json:"seq" gorm:"not null;uniqueIndex:ux_checkpoints_product_seq,priority:2"`
	Status     string            `json:"status" gorm:"type:text;not null"`
	Location   string            `json:"location" gorm:"type:text;not null"`
	Actor      string            `json:"actor" gorm:"type:text;not null"`
	Telemetry  datatypes.JSONMap `json:"telemetry,omitempty" gorm:"type:jsonb"`
	RecordedAt time.Time         `json:"recorded_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Checkpoint) TableName() string { return "checkpoints" }

// StatusManufactured is the status of the registration checkpoint.
const StatusManufactured = "manufactured"
