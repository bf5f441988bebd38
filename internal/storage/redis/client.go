package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailadmin/backend/internal/config"
)

const (
	defaultPoolSize = 10
	connectTimeout  = 5 * time.Second
	// 套餐缓存只做单键读写，超时应远小于 HTTP 请求时间
	commandTimeout = 500 * time.Millisecond
)

// Client 套餐缓存使用的 Redis 连接，同时作为就绪检查的探测对象
type Client struct {
	rdb  *goredis.Client
	addr string
	log  *zap.Logger
}

// New 连接 Redis，启动时连不上直接返回错误
func New(cfg *config.RedisConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := &goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  connectTimeout,
		ReadTimeout:  commandTimeout,
		WriteTimeout: commandTimeout,
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}

	c := &Client{rdb: goredis.NewClient(opts), addr: cfg.Address, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable (set MAILADMIN_REDIS_ENABLED=false to run without plan cache): %w", cfg.Address, err)
	}

	log.Info("redis plan cache connected",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", opts.PoolSize),
	)
	return c, nil
}

// Client 返回底层客户端
func (c *Client) Client() *goredis.Client {
	return c.rdb
}

// Ping 探测连通性，供 /health/ready 使用
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭连接池，并记录关闭前的连接统计
func (c *Client) Close() error {
	stats := c.rdb.PoolStats()
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("close redis %s: %w", c.addr, err)
	}
	c.log.Info("redis plan cache closed",
		zap.Uint32("hits", stats.Hits),
		zap.Uint32("misses", stats.Misses),
		zap.Uint32("timeouts", stats.Timeouts),
	)
	return nil
}
