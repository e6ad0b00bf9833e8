package seed

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/provenance/internal/compliance/domain"
	"github.com/smallbiznis/provenance/internal/compliance/ruleset"
	"github.com/smallbiznis/provenance/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(register),
)

type params struct {
	fx.In

	LC   fx.Lifecycle
	DB   *gorm.DB
	Log  *zap.Logger
	Cfg  config.Config
	Repo domain.Repository
}

// register seeds the built-in compliance rules at startup, applies the
// operator override file when configured, and keeps watching it for edits.
func register(p params) {
	log := p.Log.Named("seed")
	var watcher *ruleset.Watcher

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			entries, err := ruleset.Default()
			if err != nil {
				return err
			}

			path := strings.TrimSpace(p.Cfg.RulesetPath)
			if path != "" {
				override, err := ruleset.LoadFile(path)
				if err != nil {
					log.Warn("falling back to built-in rule set", zap.String("path", path), zap.Error(err))
				} else {
					entries = override
				}
			}

			if err := apply(ctx, p.DB, p.Repo, log, entries); err != nil {
				return err
			}

			if path == "" {
				return nil
			}
			watcher, err = ruleset.NewWatcher(path, p.Log)
			if err != nil {
				log.Warn("rule set watch unavailable", zap.String("path", path), zap.Error(err))
				return nil
			}
			watcher.Start(func(entries []ruleset.Entry) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := apply(ctx, p.DB, p.Repo, log, entries); err != nil {
					log.Warn("failed to apply updated rule set", zap.Error(err))
				}
			})
			return nil
		},
		OnStop: func(context.Context) error {
			if watcher != nil {
				return watcher.Stop()
			}
			return nil
		},
	})
}

// apply inserts missing rules. Existing rows win, so operator edits to live
// rules go through the API rather than the seed file.
func apply(ctx context.Context, db *gorm.DB, repo domain.Repository, log *zap.Logger, entries []ruleset.Entry) error {
	now := time.Now().UTC()
	var inserted int
	for _, entry := range entries {
		ok, err := repo.InsertRule(ctx, db, &domain.Rule{
			Code:        entry.Code,
			Name:        entry.Name,
			ProductType: entry.ProductType,
			Requirement: entry.Requirement,
			Active:      true,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		if ok {
			inserted++
		}
	}
	log.Info("compliance rules seeded", zap.Int("total", len(entries)), zap.Int("inserted", inserted))
	return nil
}
