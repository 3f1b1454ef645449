package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*CredentialCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCredentialCache(client), mr
}

func TestCredentialCache_SetGet(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "mpesa:oauth", "tok123", time.Hour))

	tok, ttl, err := cache.Get(ctx, "mpesa:oauth")
	require.NoError(t, err)
	assert.Equal(t, "tok123", tok)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestCredentialCache_Get_Absent(t *testing.T) {
	cache, _ := setupCache(t)

	tok, ttl, err := cache.Get(context.Background(), "mpesa:oauth")
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Zero(t, ttl)
}

func TestCredentialCache_Get_Expired(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "mpesa:oauth", "tok123", time.Minute))
	mr.FastForward(2 * time.Minute)

	tok, ttl, err := cache.Get(ctx, "mpesa:oauth")
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Zero(t, ttl)
}
