package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"supa_discord/internal/config"
	"supa_discord/pkg/errorx"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// New 根据 sessionConfig.store 创建缓存服务
// store 为 redis 时会先 PING 一次，连不上直接返回错误
func New(ctx context.Context, conf *config.Config, lg *zap.Logger) (CacheService, error) {
	switch conf.SessionConfig.Store {
	case "", "memory":
		lg.Info("session cache: memory")
		return NewMemoryCache(), nil
	case "redis":
		addr := conf.RedisConfig.Host + ":" + strconv.Itoa(conf.RedisConfig.Port)
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: conf.RedisConfig.Password,
			DB:       conf.RedisConfig.Db,
			PoolSize: 10,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, errorx.Wrapf(err, errorx.CodeCacheError, "redis ping %s", addr)
		}
		lg.Info("session cache: redis", zap.String("addr", addr), zap.Int("db", conf.RedisConfig.Db))
		return NewRedisCache(client), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", conf.SessionConfig.Store)
	}
}
