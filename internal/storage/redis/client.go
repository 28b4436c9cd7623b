package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/storage"
)

const keyPrefix = "tempinbox:"

// releaseScript 仅当租约仍由调用者持有时才删除。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client 封装 Redis 客户端，提供跨实例的清理租约与限流计数。
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

var (
	_ storage.LeaseRepository     = (*Client)(nil)
	_ storage.RateLimitRepository = (*Client)(nil)
)

// New 创建新的 Redis 客户端并检查连接
func New(cfg *config.RedisConfig, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return NewWithClient(rdb, log), nil
}

// NewWithClient 使用已有的 go-redis 客户端
func NewWithClient(rdb *goredis.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, log: log}
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	c.log.Info("Redis connection closed")
	return nil
}

// Ping 测试 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLease 使用 SET NX PX 获取租约，同一持有者重复获取会续期。
func (c *Client) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	k := fmt.Sprintf("%slease:%s", keyPrefix, key)

	ok, err := c.rdb.SetNX(ctx, k, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	current, err := c.rdb.Get(ctx, k).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if current != owner {
		return false, nil
	}
	if err := c.rdb.PExpire(ctx, k, ttl).Err(); err != nil {
		return false, fmt.Errorf("renew lease %s: %w", key, err)
	}
	return true, nil
}

// ReleaseLease 释放自己持有的租约
func (c *Client) ReleaseLease(ctx context.Context, key, owner string) error {
	k := fmt.Sprintf("%slease:%s", keyPrefix, key)
	if err := releaseScript.Run(ctx, c.rdb, []string{k}, owner).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

// IncrementRateLimit 固定窗口计数，首次计数时设置窗口过期时间
func (c *Client) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := fmt.Sprintf("%sratelimit:%s", keyPrefix, key)

	count, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("increment rate limit %s: %w", key, err)
	}
	if count == 1 {
		if err := c.rdb.PExpire(ctx, k, window).Err(); err != nil {
			return count, fmt.Errorf("set rate limit window %s: %w", key, err)
		}
	}
	return count, nil
}
