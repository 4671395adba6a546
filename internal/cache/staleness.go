// Package cache decides when a catalog item's market snapshot must be
// recomputed. It holds no data: the snapshot persisted on the catalog item is
// the only copy.
package cache

import (
	"time"

	"market-intel/internal/market"
)

// IsStale reports whether snap needs recomputation at now. An absent snapshot
// is always stale; a present one is stale once its age reaches ttl.
func IsStale(snap *market.Snapshot, ttl time.Duration, now time.Time) bool {
	if snap == nil {
		return true
	}
	return now.Sub(snap.LastCheckedAt) >= ttl
}

// Policy binds a ttl to a clock.
type Policy struct {
	TTL time.Duration
	Now func() time.Time
}

// NewPolicy builds a Policy using the wall clock.
func NewPolicy(ttl time.Duration) Policy {
	return Policy{TTL: ttl, Now: time.Now}
}

// IsStale applies the policy to snap.
func (p Policy) IsStale(snap *market.Snapshot) bool {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return IsStale(snap, p.TTL, now())
}

// Age returns how old snap is, or -1 when it is absent.
func (p Policy) Age(snap *market.Snapshot) time.Duration {
	if snap == nil {
		return -1
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Sub(snap.LastCheckedAt)
}
