package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if conn.Dialector.Name() != "postgres" {
			log.Named("migrations").Warn("skipping embedded migrations for non-postgres database",
				zap.String("dialect", conn.Dialector.Name()))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
