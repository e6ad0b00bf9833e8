package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Response, error)
	AddCheckpoint(ctx context.Context, req CheckpointRequest) (*Checkpoint, error)
	AddStakeholder(ctx context.Context, req StakeholderRequest) error
	Deactivate(ctx context.Context, id int64, caller string) error

	Get(ctx context.Context, id int64) (*Response, error)
	Checkpoints(ctx context.Context, id int64) ([]Checkpoint, error)
	ByStakeholder(ctx context.Context, addr string) ([]Response, error)
	IDByBatch(ctx context.Context, batchNumber string) (int64, error)
}

type RegisterRequest struct {
	Name           string         `json:"name"`
	ProductType    string         `json:"product_type"`
	BatchNumber    string         `json:"batch_number"`
	ManufacturedAt time.Time      `json:"manufactured_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	RawMaterials   []string       `json:"raw_materials"`
	MetadataRef    *string        `json:"metadata_ref"`
	Metadata       map[string]any `json:"metadata"`
	Caller         string         `json:"-"`
}

type CheckpointRequest struct {
	ProductID int64          `json:"-"`
	Status    string         `json:"status"`
	Location  string         `json:"location"`
	Telemetry map[string]any `json:"telemetry"`
	Caller    string         `json:"-"`
}

type StakeholderRequest struct {
	ProductID int64  `json:"-"`
	Address   string `json:"address"`
	Caller    string `json:"-"`
}

type Response struct {
	ID             int64          `json:"id,string"`
	Name           string         `json:"name"`
	ProductType    string         `json:"product_type"`
	Manufacturer   string         `json:"manufacturer"`
	BatchNumber    string         `json:"batch_number"`
	ManufacturedAt time.Time      `json:"manufactured_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	RawMaterials   []string       `json:"raw_materials,omitempty"`
	MetadataRef    *string        `json:"metadata_ref,omitempty"`
	Active         bool           `json:"active"`
	Stakeholders   []string       `json:"stakeholders"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrDuplicateBatch     = errors.New("duplicate_batch")
	ErrInvalidTimestamps  = errors.New("invalid_timestamps")
	ErrEmptyField         = errors.New("empty_field")
	ErrInactive           = errors.New("product_inactive")
	ErrAlreadyStakeholder = errors.New("already_stakeholder")
	ErrInvalidAddress     = errors.New("invalid_address")
	ErrInvalidID          = errors.New("invalid_id")
)
