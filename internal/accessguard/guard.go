package accessguard

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	"github.com/smallbiznis/provenance/internal/config"
	"github.com/smallbiznis/provenance/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrSystemPaused = errors.New("system_paused")
)

const pausedSettingKey = "system_paused"

// StakeholderDirectory answers per-product membership questions. The product
// module provides the implementation; the guard stays a leaf.
type StakeholderDirectory interface {
	IsStakeholder(ctx context.Context, productID int64, addr string) (bool, error)
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Outbox    *events.Outbox
	AuditSvc  auditdomain.Service
	Directory StakeholderDirectory `optional:"true"`
}

// Guard implements owner/admin checks, the global pause switch and
// per-product stakeholder authorization.
type Guard struct {
	db        *gorm.DB
	log       *zap.Logger
	outbox    *events.Outbox
	auditSvc  auditdomain.Service
	directory StakeholderDirectory

	admins   map[string]struct{}
	auditors map[string]struct{}
	paused   atomic.Bool
}

func New(p Params) *Guard {
	g := &Guard{
		db:        p.DB,
		log:       p.Log.Named("accessguard"),
		outbox:    p.Outbox,
		auditSvc:  p.AuditSvc,
		directory: p.Directory,
		admins:    toSet(p.Cfg.AdminAddresses),
		auditors:  toSet(p.Cfg.AuditorAddresses),
	}
	return g
}

// LoadState restores the persisted pause flag. Called once after migrations.
func (g *Guard) LoadState(ctx context.Context) error {
	var value string
	err := g.db.WithContext(ctx).Raw(
		`SELECT value FROM system_settings WHERE key = ?`,
		pausedSettingKey,
	).Scan(&value).Error
	if err != nil {
		return err
	}
	g.paused.Store(value == "true")
	return nil
}

// SetDirectory wires the stakeholder lookup after construction. Used when the
// product module is built without fx.
func (g *Guard) SetDirectory(d StakeholderDirectory) {
	g.directory = d
}

func (g *Guard) IsAdmin(addr string) bool {
	_, ok := g.admins[normalize(addr)]
	return ok
}

// IsAuditor reports whether addr may record compliance checks. Admins qualify.
func (g *Guard) IsAuditor(addr string) bool {
	if g.IsAdmin(addr) {
		return true
	}
	_, ok := g.auditors[normalize(addr)]
	return ok
}

func (g *Guard) RequireAdmin(addr string) error {
	if !g.IsAdmin(addr) {
		return ErrUnauthorized
	}
	return nil
}

func (g *Guard) Paused() bool {
	return g.paused.Load()
}

// RequireNotPaused gates every mutating operation outside dispute resolution.
func (g *Guard) RequireNotPaused(_ context.Context) error {
	if g.paused.Load() {
		return ErrSystemPaused
	}
	return nil
}

// IsStakeholder reports whether addr belongs to the product's stakeholder set.
func (g *Guard) IsStakeholder(ctx context.Context, productID int64, addr string) (bool, error) {
	if g.directory == nil {
		return false, errors.New("stakeholder_directory_unavailable")
	}
	return g.directory.IsStakeholder(ctx, productID, normalize(addr))
}

// Pause halts mutating operations system wide. Admin only.
func (g *Guard) Pause(ctx context.Context, caller string) error {
	return g.setPaused(ctx, caller, true)
}

// Unpause resumes normal operation. Admin only.
func (g *Guard) Unpause(ctx context.Context, caller string) error {
	return g.setPaused(ctx, caller, false)
}

func (g *Guard) setPaused(ctx context.Context, caller string, paused bool) error {
	if err := g.RequireAdmin(caller); err != nil {
		return err
	}

	value := "false"
	eventType := events.EventSystemResumed
	action := "system.resumed"
	if paused {
		value = "true"
		eventType = events.EventSystemPaused
		action = "system.paused"
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO system_settings (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			pausedSettingKey,
			value,
		).Error; err != nil {
			return err
		}
		return g.outbox.PublishTx(ctx, tx, events.Event{
			Type:    eventType,
			Payload: map[string]any{"actor": normalize(caller)},
		})
	})
	if err != nil {
		return err
	}

	g.paused.Store(paused)
	g.log.Info("pause switch changed", zap.Bool("paused", paused), zap.String("actor", normalize(caller)))

	if err := g.auditSvc.AuditLog(ctx, normalize(caller), action, "system", nil, nil); err != nil {
		g.log.Warn("failed to write pause audit log", zap.Error(err))
	}
	return nil
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func toSet(addrs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		a = normalize(a)
		if a == "" {
			continue
		}
		set[a] = struct{}{}
	}
	return set
}
