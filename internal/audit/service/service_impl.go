package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, actor string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}

	entry := &domain.AuditLog{
		ID:         s.genID.Generate(),
		Actor:      strings.TrimSpace(actor),
		Action:     action,
		TargetType: strings.TrimSpace(targetType),
		TargetID:   targetID,
		CreatedAt:  time.Now().UTC(),
	}
	if metadata != nil {
		entry.Metadata = datatypes.JSONMap(metadata)
	}

	return s.repo.Insert(ctx, s.db, entry)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}

	filter := domain.ListFilter{
		Actor:      req.Actor,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Limit:      req.PageSize,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		afterID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.AfterID = afterID
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	logs, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{AuditLogs: logs}
	if len(logs) > limit {
		resp.AuditLogs = logs[:limit]
		resp.HasMore = true
		last := resp.AuditLogs[len(resp.AuditLogs)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: strconv.FormatInt(int64(last.ID), 10)})
		if err != nil {
			return domain.ListResponse{}, err
		}
		resp.NextPageToken = token
	}
	return resp, nil
}
