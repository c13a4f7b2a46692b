package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// A nil cache is the disabled configuration; every call must be safe.
func TestNilCacheIsSafe(t *testing.T) {
	var c *RedisCache
	ctx := context.Background()

	var dest map[string]string
	assert.False(t, c.GetView(ctx, "stats", &dest))

	c.PutView(ctx, "stats", map[string]string{"k": "v"})
	c.Invalidate(ctx, "stats", "users")
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}
