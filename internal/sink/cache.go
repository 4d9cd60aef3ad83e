package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"equity-bar-ingestor/internal/model"
	"equity-bar-ingestor/internal/service"
)

// latestKey 所有证券的最新 bar 都挂在同一个 hash 下
const latestKey = "bars:latest"

// LatestCache 把最新 bar 镜像到 Redis hash，供外部读者订阅同一份最终视图。
// 可选组件：未配置 Redis 地址时为 nil，调用方跳过。
type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLatestCache 按配置创建 Redis 扇出，RedisAddr 为空时返回 nil
func NewLatestCache(cfg *service.SinkConfig) *LatestCache {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return &LatestCache{
		client: client,
		ttl:    time.Duration(cfg.RedisTTLSec) * time.Second,
	}
}

// Publish 写入一个证券的最新 bar 并刷新整个 hash 的过期时间
func (c *LatestCache) Publish(ctx context.Context, bar model.Bar) error {
	data, err := json.Marshal(bar)
	if err != nil {
		return fmt.Errorf("marshal bar: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, latestKey, bar.InstrumentCode, data)
	pipe.Expire(ctx, latestKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Ping 启动时探活，失败只降级不致命
func (c *LatestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
