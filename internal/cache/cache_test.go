package cache

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("forever", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	v, ok = c.Get("forever")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("k", "v", time.Hour)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCabinOwnerCache(t *testing.T) {
	c := NewCabinOwnerCache()
	cabinID := snowflake.ID(10)
	vendorID := snowflake.ID(20)

	_, ok := c.GetOwner(cabinID)
	assert.False(t, ok)

	c.SetOwner(cabinID, vendorID)
	owner, ok := c.GetOwner(cabinID)
	require.True(t, ok)
	assert.Equal(t, vendorID, owner)

	c.SetOwner(snowflake.ID(11), 0)
	_, ok = c.GetOwner(snowflake.ID(11))
	assert.False(t, ok)

	c.Invalidate(cabinID)
	_, ok = c.GetOwner(cabinID)
	assert.False(t, ok)
}
