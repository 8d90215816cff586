package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func TestRedisCacheSetGetDelete(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	c, err := newRedisCache([]string{mr.Addr()})
	assert.NoError(t, err)

	ctx := context.Background()
	type payload struct {
		OrderID string `json:"order_id"`
		Total   int64  `json:"total"`
	}

	err = c.Set(ctx, "orders:order_123", payload{OrderID: "order_123", Total: 4200}, time.Minute)
	assert.NoError(t, err)

	var got payload
	err = c.Get(ctx, "orders:order_123", &got)
	assert.NoError(t, err)
	assert.Equal(t, "order_123", got.OrderID)
	assert.Equal(t, int64(4200), got.Total)

	err = c.Delete(ctx, "orders:order_123")
	assert.NoError(t, err)
}

func TestRedisCacheMissIsNotError(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	c, err := newRedisCache([]string{mr.Addr()})
	assert.NoError(t, err)

	var got string
	err = c.Get(context.Background(), "orders:missing", &got)
	assert.NoError(t, err)
	assert.Empty(t, got)
}
