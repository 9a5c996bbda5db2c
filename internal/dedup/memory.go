package dedup

import (
	"context"
	"sync"
	"time"
)

type MemoryTable struct {
	mu       sync.Mutex
	entries  map[Key]time.Time
	cooldown time.Duration
	now      func() time.Time
}

func NewMemoryTable(cooldown time.Duration, now func() time.Time) *MemoryTable {
	if cooldown < 0 {
		cooldown = 0
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryTable{
		entries:  make(map[Key]time.Time),
		cooldown: cooldown,
		now:      now,
	}
}

func (t *MemoryTable) Admit(_ context.Context, key Key) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if _, ok := t.entries[key]; ok {
		return false, nil
	}
	prefix := key.CooldownPrefix()
	for k, insertedAt := range t.entries {
		if k.CooldownPrefix() == prefix && now.Sub(insertedAt) < t.cooldown {
			return false, nil
		}
	}
	t.entries[key] = now
	return true, nil
}

func (t *MemoryTable) Release(_ context.Context, key Key) error {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTable) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for k, insertedAt := range t.entries {
		if now.Sub(insertedAt) > maxAge {
			delete(t.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (t *MemoryTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
