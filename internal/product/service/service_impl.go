package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provenance/internal/accessguard"
	"github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/internal/clock"
	"github.com/smallbiznis/provenance/internal/events"
	"github.com/smallbiznis/provenance/internal/observability/metrics"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	dbutil "github.com/smallbiznis/provenance/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Guard    *accessguard.Guard
	Outbox   *events.Outbox
	AuditSvc domain.Service
	Metrics  *metrics.Metrics `optional:"true"`
	Repo     productdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	guard    *accessguard.Guard
	outbox   *events.Outbox
	auditSvc domain.Service
	metrics  *metrics.Metrics
	repo     productdomain.Repository
}

func NewService(p Params) productdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("product.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		guard:    p.Guard,
		outbox:   p.Outbox,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
		repo:     p.Repo,
	}
}

// Register creates the product, seeds the caller as manufacturer and first
// stakeholder, and writes the seq-0 "manufactured" checkpoint in the same
// transaction.
func (s *Service) Register(ctx context.Context, req productdomain.RegisterRequest) (*productdomain.Response, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}

	caller := normalizeAddress(req.Caller)
	if caller == "" {
		return nil, productdomain.ErrInvalidAddress
	}

	name := strings.TrimSpace(req.Name)
	productType := strings.TrimSpace(req.ProductType)
	batchNumber := strings.TrimSpace(req.BatchNumber)
	if name == "" || productType == "" || batchNumber == "" {
		return nil, productdomain.ErrEmptyField
	}
	if req.ManufacturedAt.IsZero() || req.ExpiresAt.IsZero() || !req.ExpiresAt.After(req.ManufacturedAt) {
		return nil, productdomain.ErrInvalidTimestamps
	}

	now := s.clock.Now()
	product := &productdomain.Product{
		ID:             s.genID.Generate().Int64(),
		Name:           name,
		ProductType:    productType,
		Manufacturer:   caller,
		BatchNumber:    batchNumber,
		ManufacturedAt: req.ManufacturedAt.UTC(),
		ExpiresAt:      req.ExpiresAt.UTC(),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.MetadataRef != nil {
		ref := strings.TrimSpace(*req.MetadataRef)
		if ref != "" {
			product.MetadataRef = &ref
		}
	}
	if len(req.RawMaterials) > 0 {
		raw, err := json.Marshal(req.RawMaterials)
		if err != nil {
			return nil, err
		}
		product.RawMaterials = datatypes.JSON(raw)
	}
	if req.Metadata != nil {
		product.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, product); err != nil {
			if dbutil.IsDuplicateKeyErr(err) {
				return productdomain.ErrDuplicateBatch
			}
			return err
		}

		if _, err := s.repo.InsertStakeholder(ctx, tx, &productdomain.Stakeholder{
			ProductID: product.ID,
			Address:   caller,
			AddedBy:   caller,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if err := s.repo.InsertCheckpoint(ctx, tx, &productdomain.Checkpoint{
			ID:         s.genID.Generate().Int64(),
			ProductID:  product.ID,
			Seq:        0,
			Status:     productdomain.StatusManufactured,
			Location:   caller,
			Actor:      caller,
			RecordedAt: now,
		}); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventProductRegistered,
			Payload: map[string]any{
				"product_id":   strconv.FormatInt(product.ID, 10),
				"batch_number": batchNumber,
				"manufacturer": caller,
			},
			DedupeKey: "product.registered:" + batchNumber,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordProductRegistered()
	s.log.Info("product registered",
		zap.Int64("product_id", product.ID),
		zap.String("batch_number", batchNumber),
		zap.String("manufacturer", caller),
	)

	targetID := strconv.FormatInt(product.ID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "product.registered", "product", &targetID, map[string]any{
		"batch_number": batchNumber,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}

	return s.toResponse(product, []string{caller}), nil
}

// AddCheckpoint appends the next movement event. Only current stakeholders of
// an active product may append; Seq is assigned from the current count under a
// row lock so it stays dense.
func (s *Service) AddCheckpoint(ctx context.Context, req productdomain.CheckpointRequest) (*productdomain.Checkpoint, error) {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return nil, err
	}
	if req.ProductID <= 0 {
		return nil, productdomain.ErrInvalidID
	}

	caller := normalizeAddress(req.Caller)
	if caller == "" {
		return nil, productdomain.ErrInvalidAddress
	}

	status := strings.TrimSpace(req.Status)
	location := strings.TrimSpace(req.Location)
	if status == "" || location == "" {
		return nil, productdomain.ErrEmptyField
	}

	checkpoint := &productdomain.Checkpoint{
		ID:         s.genID.Generate().Int64(),
		ProductID:  req.ProductID,
		Status:     status,
		Location:   location,
		Actor:      caller,
		RecordedAt: s.clock.Now(),
	}
	if req.Telemetry != nil {
		checkpoint.Telemetry = datatypes.JSONMap(req.Telemetry)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.repo.FindByID(ctx, tx, req.ProductID, true)
		if err != nil {
			return err
		}
		if product == nil {
			return productdomain.ErrNotFound
		}
		if !product.Active {
			return productdomain.ErrInactive
		}

		ok, err := s.repo.IsStakeholder(ctx, tx, req.ProductID, caller)
		if err != nil {
			return err
		}
		if !ok && !s.guard.IsAdmin(caller) {
			return accessguard.ErrUnauthorized
		}

		seq, err := s.repo.CountCheckpoints(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		checkpoint.Seq = seq

		if err := s.repo.InsertCheckpoint(ctx, tx, checkpoint); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventCheckpointAdded,
			Payload: map[string]any{
				"product_id": strconv.FormatInt(req.ProductID, 10),
				"seq":        checkpoint.Seq,
				"status":     status,
				"actor":      caller,
			},
			DedupeKey: "checkpoint.added:" + strconv.FormatInt(req.ProductID, 10) + ":" + strconv.FormatInt(checkpoint.Seq, 10),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCheckpointAdded()
	s.log.Info("checkpoint added",
		zap.Int64("product_id", req.ProductID),
		zap.Int64("seq", checkpoint.Seq),
		zap.String("status", status),
	)

	targetID := strconv.FormatInt(req.ProductID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "checkpoint.added", "product", &targetID, map[string]any{
		"seq":    checkpoint.Seq,
		"status": status,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return checkpoint, nil
}

// AddStakeholder grants checkpoint rights on a product. Existing stakeholders
// and admins may extend the set; re-adding an address is rejected.
func (s *Service) AddStakeholder(ctx context.Context, req productdomain.StakeholderRequest) error {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return err
	}
	if req.ProductID <= 0 {
		return productdomain.ErrInvalidID
	}

	caller := normalizeAddress(req.Caller)
	addr := normalizeAddress(req.Address)
	if caller == "" || addr == "" {
		return productdomain.ErrInvalidAddress
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.repo.FindByID(ctx, tx, req.ProductID, true)
		if err != nil {
			return err
		}
		if product == nil {
			return productdomain.ErrNotFound
		}
		if !product.Active {
			return productdomain.ErrInactive
		}

		ok, err := s.repo.IsStakeholder(ctx, tx, req.ProductID, caller)
		if err != nil {
			return err
		}
		if !ok && !s.guard.IsAdmin(caller) {
			return accessguard.ErrUnauthorized
		}

		inserted, err := s.repo.InsertStakeholder(ctx, tx, &productdomain.Stakeholder{
			ProductID: req.ProductID,
			Address:   addr,
			AddedBy:   caller,
			CreatedAt: s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return productdomain.ErrAlreadyStakeholder
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventStakeholderAdded,
			Payload: map[string]any{
				"product_id": strconv.FormatInt(req.ProductID, 10),
				"address":    addr,
				"added_by":   caller,
			},
			DedupeKey: "stakeholder.added:" + strconv.FormatInt(req.ProductID, 10) + ":" + addr,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("stakeholder added",
		zap.Int64("product_id", req.ProductID),
		zap.String("address", addr),
		zap.String("added_by", caller),
	)

	targetID := strconv.FormatInt(req.ProductID, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "stakeholder.added", "product", &targetID, map[string]any{
		"address": addr,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

// Deactivate takes a product out of circulation. Manufacturer or admin; the
// row and its history stay readable. Deactivating twice is a no-op.
func (s *Service) Deactivate(ctx context.Context, id int64, caller string) error {
	if err := s.guard.RequireNotPaused(ctx); err != nil {
		return err
	}
	caller = normalizeAddress(caller)
	if caller == "" {
		return productdomain.ErrInvalidAddress
	}
	if id <= 0 {
		return productdomain.ErrInvalidID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.repo.FindByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if product == nil {
			return productdomain.ErrNotFound
		}
		if product.Manufacturer != caller && !s.guard.IsAdmin(caller) {
			return accessguard.ErrUnauthorized
		}
		if !product.Active {
			return nil
		}

		if err := s.repo.SetActive(ctx, tx, id, false); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventProductDeactivated,
			Payload: map[string]any{
				"product_id": strconv.FormatInt(id, 10),
				"actor":      caller,
			},
			DedupeKey: "product.deactivated:" + strconv.FormatInt(id, 10),
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("product deactivated", zap.Int64("product_id", id), zap.String("actor", caller))

	targetID := strconv.FormatInt(id, 10)
	if err := s.auditSvc.AuditLog(ctx, caller, "product.deactivated", "product", &targetID, nil); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*productdomain.Response, error) {
	if id <= 0 {
		return nil, productdomain.ErrInvalidID
	}

	product, err := s.repo.FindByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, productdomain.ErrNotFound
	}

	stakeholders, err := s.repo.ListStakeholders(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return s.toResponse(product, stakeholders), nil
}

func (s *Service) Checkpoints(ctx context.Context, id int64) ([]productdomain.Checkpoint, error) {
	if id <= 0 {
		return nil, productdomain.ErrInvalidID
	}

	product, err := s.repo.FindByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, productdomain.ErrNotFound
	}

	return s.repo.ListCheckpoints(ctx, s.db, id)
}

func (s *Service) ByStakeholder(ctx context.Context, addr string) ([]productdomain.Response, error) {
	addr = normalizeAddress(addr)
	if addr == "" {
		return nil, productdomain.ErrInvalidAddress
	}

	products, err := s.repo.ListByStakeholder(ctx, s.db, addr)
	if err != nil {
		return nil, err
	}

	resp := make([]productdomain.Response, 0, len(products))
	for i := range products {
		stakeholders, err := s.repo.ListStakeholders(ctx, s.db, products[i].ID)
		if err != nil {
			return nil, err
		}
		resp = append(resp, *s.toResponse(&products[i], stakeholders))
	}
	return resp, nil
}

// IDByBatch resolves a batch number to its product id. Unknown batch numbers
// return ErrNotFound rather than a sentinel id.
func (s *Service) IDByBatch(ctx context.Context, batchNumber string) (int64, error) {
	batchNumber = strings.TrimSpace(batchNumber)
	if batchNumber == "" {
		return 0, productdomain.ErrEmptyField
	}

	id, err := s.repo.FindIDByBatch(ctx, s.db, batchNumber)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, productdomain.ErrNotFound
	}
	return id, nil
}

func (s *Service) toResponse(p *productdomain.Product, stakeholders []string) *productdomain.Response {
	resp := &productdomain.Response{
		ID:             p.ID,
		Name:           p.Name,
		ProductType:    p.ProductType,
		Manufacturer:   p.Manufacturer,
		BatchNumber:    p.BatchNumber,
		ManufacturedAt: p.ManufacturedAt,
		ExpiresAt:      p.ExpiresAt,
		MetadataRef:    p.MetadataRef,
		Active:         p.Active,
		Stakeholders:   stakeholders,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if len(p.RawMaterials) > 0 {
		var materials []string
		if err := json.Unmarshal(p.RawMaterials, &materials); err == nil {
			resp.RawMaterials = materials
		}
	}
	if p.Metadata != nil {
		resp.Metadata = map[string]any(p.Metadata)
	}
	return resp
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
