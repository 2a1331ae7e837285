package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrLockKeyEmpty    = errors.New("lock key is empty")
	ErrLockTTLInvalid  = errors.New("lock ttl must be positive")
	ErrLockUnavailable = errors.New("lock client not configured")
)

// ScopeLocker serializes settlement work on a scope key. TryLock never blocks:
// ok is false when another holder owns the key.
type ScopeLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// VendorScopeKey covers every cabin of the vendor, so vendor-wide and per-cabin
// settlement of the same vendor never run at the same time.
func VendorScopeKey(vendorID snowflake.ID) string {
	return fmt.Sprintf("settlement:vendor:%d", vendorID)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return ErrLockTTLInvalid
	}
	return nil
}
