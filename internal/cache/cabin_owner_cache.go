package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const defaultCabinOwnerTTL = 5 * time.Minute

// CabinOwnerCache remembers which vendor owns a cabin for revenue ingest.
type CabinOwnerCache interface {
	GetOwner(cabinID snowflake.ID) (snowflake.ID, bool)
	SetOwner(cabinID, vendorID snowflake.ID)
	Invalidate(cabinID snowflake.ID)
}

type cabinOwnerCache struct {
	owners Cache[snowflake.ID, snowflake.ID]
	ttl    time.Duration
}

func NewCabinOwnerCache() CabinOwnerCache {
	return &cabinOwnerCache{
		owners: NewTTLCache[snowflake.ID, snowflake.ID](),
		ttl:    defaultCabinOwnerTTL,
	}
}

func (c *cabinOwnerCache) GetOwner(cabinID snowflake.ID) (snowflake.ID, bool) {
	return c.owners.Get(cabinID)
}

func (c *cabinOwnerCache) SetOwner(cabinID, vendorID snowflake.ID) {
	if cabinID == 0 || vendorID == 0 {
		return
	}
	c.owners.Set(cabinID, vendorID, c.ttl)
}

// Invalidate drops the entry after a cabin changes hands.
func (c *cabinOwnerCache) Invalidate(cabinID snowflake.ID) {
	c.owners.Delete(cabinID)
}
