package locks

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/provenance/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("locks",
	fx.Provide(provideLocker),
)

func provideLocker(cfg config.Config, log *zap.Logger) *Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Named("locks").Info("redis not configured; relying on database row locks")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return NewLocker(client)
}
