package triggers

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// Deduper claims an event id for processing. Claim reports false when another delivery of
// the same id already holds or completed the claim; Release gives a failed claim back so the
// platform's retry is processed.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type nopDeduper struct{}

// NopDeduper accepts every delivery.
func NopDeduper() Deduper { return nopDeduper{} }

func (nopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }
func (nopDeduper) Release(context.Context, string) error       { return nil }

type RedisDeduperConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type RedisDeduper struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(log *logger.Logger, cfg RedisDeduperConfig) (*RedisDeduper, error) {
	if log == nil {
		log = logger.Nop()
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "whytv:event:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisDeduper{
		log:    log.With("service", "RedisDeduper"),
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+eventID, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	if err := d.rdb.Del(ctx, d.prefix+eventID).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (d *RedisDeduper) Close() error {
	if d == nil || d.rdb == nil {
		return nil
	}
	return d.rdb.Close()
}
