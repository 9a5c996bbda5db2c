package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewKeyUsesMainSentinel(t *testing.T) {
	t.Parallel()

	k := NewKey("U1", "C1", "1.1", " ")
	if k.ThreadRootID != MainThread {
		t.Fatalf("ThreadRootID = %q, want %q", k.ThreadRootID, MainThread)
	}
	if k.String() != "U1:C1:1.1:main" || k.CooldownPrefix() != "U1:C1:main" {
		t.Fatalf("key rendering mismatch: %q / %q", k.String(), k.CooldownPrefix())
	}
}

func TestMemoryTableDuplicateAndCooldown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	table := NewMemoryTable(2*time.Second, clock.Now)

	first := NewKey("U1", "C1", "1700000000.000100", "")
	if ok, _ := table.Admit(ctx, first); !ok {
		t.Fatalf("Admit(first) = false, want true")
	}
	if ok, _ := table.Admit(ctx, first); ok {
		t.Fatalf("Admit(duplicate) = true, want false")
	}

	sibling := NewKey("U1", "C1", "1700000001.000100", "")
	clock.Advance(500 * time.Millisecond)
	if ok, _ := table.Admit(ctx, sibling); ok {
		t.Fatalf("Admit(sibling within cooldown) = true, want false")
	}

	otherThread := NewKey("U1", "C1", "1700000001.000200", "1699999999.000001")
	if ok, _ := table.Admit(ctx, otherThread); !ok {
		t.Fatalf("Admit(other thread) = false, want true")
	}

	clock.Advance(2 * time.Second)
	if ok, _ := table.Admit(ctx, sibling); !ok {
		t.Fatalf("Admit(sibling after cooldown) = false, want true")
	}
	if ok, _ := table.Admit(ctx, first); ok {
		t.Fatalf("Admit(first, still held) = true, want false")
	}
}

func TestMemoryTableReleaseLiftsCooldown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	table := NewMemoryTable(2*time.Second, clock.Now)

	k := NewKey("U1", "C1", "1.1", "")
	_, _ = table.Admit(ctx, k)
	_ = table.Release(ctx, k)
	if table.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", table.Len())
	}
	if ok, _ := table.Admit(ctx, NewKey("U1", "C1", "1.2", "")); !ok {
		t.Fatalf("Admit() after release = false, want true")
	}
}

func TestMemoryTableSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	table := NewMemoryTable(0, clock.Now)

	stale := NewKey("U1", "C1", "1.1", "")
	_, _ = table.Admit(ctx, stale)
	clock.Advance(100 * time.Second)
	fresh := NewKey("U2", "C1", "1.2", "")
	_, _ = table.Admit(ctx, fresh)
	clock.Advance(30 * time.Second)

	removed, err := table.Sweep(ctx, DefaultStaleAfter)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 || table.Len() != 1 {
		t.Fatalf("Sweep() removed = %d, len = %d; want 1, 1", removed, table.Len())
	}
	if ok, _ := table.Admit(ctx, fresh); ok {
		t.Fatalf("fresh entry was swept")
	}
	if ok, _ := table.Admit(ctx, stale); !ok {
		t.Fatalf("stale entry was kept")
	}
}

func TestMemoryTableConcurrentAdmitIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	table := NewMemoryTable(DefaultCooldown, nil)
	k := NewKey("U1", "C1", "1.1", "")

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := table.Admit(ctx, k); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if admitted.Load() != 1 {
		t.Fatalf("admitted = %d, want 1", admitted.Load())
	}
}
