package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := NewWithClient(rdb, zap.NewNop())
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestClient_Leases(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	ok, err := client.AcquireLease(ctx, "sweep:expired", "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("其他持有者无法获取", func(t *testing.T) {
		ok, err := client.AcquireLease(ctx, "sweep:expired", "node-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("同一持有者可以续期", func(t *testing.T) {
		ok, err := client.AcquireLease(ctx, "sweep:expired", "node-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("非持有者释放无效", func(t *testing.T) {
		require.NoError(t, client.ReleaseLease(ctx, "sweep:expired", "node-b"))
		assert.True(t, mr.Exists("tempinbox:lease:sweep:expired"))
	})

	t.Run("过期后可被接管", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		ok, err := client.AcquireLease(ctx, "sweep:expired", "node-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, client.ReleaseLease(ctx, "sweep:expired", "node-b"))
		assert.False(t, mr.Exists("tempinbox:lease:sweep:expired"))
	})
}

func TestClient_IncrementRateLimit(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	for i := int64(1); i <= 3; i++ {
		count, err := client.IncrementRateLimit(ctx, "create:1.1.1.1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}
	assert.Equal(t, time.Hour, mr.TTL("tempinbox:ratelimit:create:1.1.1.1"))

	mr.FastForward(time.Hour + time.Second)
	count, err := client.IncrementRateLimit(ctx, "create:1.1.1.1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
