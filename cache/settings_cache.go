package cache

import (
	"context"
	"encoding/json"
	"time"

	"loyalty-engine/loyalty"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL    = 60 * time.Second
	DefaultPrefix = "loyalty:settings:"
)

// SettingsCache stores merchant settings snapshots in Redis. Failures are
// logged and treated as misses; the database stays the source of truth.
type SettingsCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewSettingsCache(client redis.UniversalClient, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SettingsCache{client: client, ttl: ttl, prefix: DefaultPrefix}
}

// NewClient opens a client and pings it once.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *SettingsCache) key(merchantID uuid.UUID) string {
	return c.prefix + merchantID.String()
}

func (c *SettingsCache) Get(ctx context.Context, merchantID uuid.UUID) (*loyalty.Settings, bool) {
	raw, err := c.client.Get(ctx, c.key(merchantID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("merchant_id", merchantID.String()).Msg("settings cache read failed")
		return nil, false
	}
	var s loyalty.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("merchant_id", merchantID.String()).Msg("settings cache entry is corrupt")
		return nil, false
	}
	return &s, true
}

func (c *SettingsCache) Set(ctx context.Context, merchantID uuid.UUID, s loyalty.Settings) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(merchantID), raw, c.ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("merchant_id", merchantID.String()).Msg("settings cache write failed")
	}
}

func (c *SettingsCache) Invalidate(ctx context.Context, merchantID uuid.UUID) {
	if err := c.client.Del(ctx, c.key(merchantID)).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("merchant_id", merchantID.String()).Msg("settings cache invalidate failed")
	}
}

var _ loyalty.SettingsCache = (*SettingsCache)(nil)
