package cache

import (
	"testing"
	"time"

	"market-intel/internal/market"
)

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := 6 * time.Hour

	if !IsStale(nil, ttl, now) {
		t.Fatal("absent snapshot must be stale")
	}

	fresh := &market.Snapshot{LastCheckedAt: now.Add(-ttl + time.Second)}
	if IsStale(fresh, ttl, now) {
		t.Fatal("snapshot younger than ttl must be fresh")
	}

	exact := &market.Snapshot{LastCheckedAt: now.Add(-ttl)}
	if !IsStale(exact, ttl, now) {
		t.Fatal("snapshot aged exactly ttl must be stale")
	}

	if !IsStale(&market.Snapshot{LastCheckedAt: now}, 0, now) {
		t.Fatal("zero ttl must always be stale")
	}
}

func TestPolicyUsesInjectedClock(t *testing.T) {
	checked := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := &market.Snapshot{LastCheckedAt: checked}

	clock := checked.Add(time.Hour)
	p := Policy{TTL: 2 * time.Hour, Now: func() time.Time { return clock }}
	if p.IsStale(snap) {
		t.Fatal("expected fresh at +1h")
	}
	if got := p.Age(snap); got != time.Hour {
		t.Fatalf("age = %s", got)
	}

	clock = checked.Add(3 * time.Hour)
	if !p.IsStale(snap) {
		t.Fatal("expected stale at +3h")
	}
	if p.Age(nil) != -1 {
		t.Fatal("absent snapshot age must be -1")
	}
}
