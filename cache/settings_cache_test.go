package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"loyalty-engine/loyalty"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreachableRedisIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewSettingsCache(client, 0)
	assert.Equal(t, DefaultTTL, c.ttl)

	ctx := context.Background()
	id := uuid.New()
	c.Set(ctx, id, loyalty.Settings{MerchantID: id, EarnBps: 300})
	got, ok := c.Get(ctx, id)
	assert.False(t, ok)
	assert.Nil(t, got)
	c.Invalidate(ctx, id)
}

func TestKeyIsPrefixedByMerchant(t *testing.T) {
	c := NewSettingsCache(nil, time.Minute)
	id := uuid.MustParse("6f1c2d3e-0000-4000-8000-000000000001")
	assert.Equal(t, "loyalty:settings:6f1c2d3e-0000-4000-8000-000000000001", c.key(id))
}

// Runs against a real server when REDIS_ADDR is set.
func TestSettingsRoundTripAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	c := NewSettingsCache(client, 5*time.Second)
	id := uuid.New()
	capValue := int64(200)
	want := loyalty.Settings{MerchantID: id, EarnBps: 300, RedeemLimitBps: 5000, EarnDailyCap: &capValue}

	c.Set(ctx, id, want)
	got, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, want.EarnBps, got.EarnBps)
	require.NotNil(t, got.EarnDailyCap)
	assert.Equal(t, capValue, *got.EarnDailyCap)

	c.Invalidate(ctx, id)
	_, ok = c.Get(ctx, id)
	assert.False(t, ok)
}
