package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provenance/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records who did what to which entity.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	Actor      string            `json:"actor" gorm:"type:text;not null;index"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null;index"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
	Limit      int
	AfterID    int64
}

type ListRequest struct {
	pagination.Pagination
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

type Service interface {
	AuditLog(ctx context.Context, actor string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
