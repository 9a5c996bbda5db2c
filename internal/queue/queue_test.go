package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueFIFOAndPollTimeout(t *testing.T) {
	t.Parallel()

	q := New[int]()
	for i := 1; i <= 3; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) = false", i)
		}
	}
	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		got, err := q.Pop(ctx, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got != want {
			t.Fatalf("Pop() = %d, want %d", got, want)
		}
	}
	if _, err := q.Pop(ctx, 10*time.Millisecond); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Pop(empty) error = %v, want ErrEmpty", err)
	}
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	t.Parallel()

	q := New[string]()
	q.Push("last")
	q.Close()
	if q.Push("late") {
		t.Fatalf("Push() after Close = true")
	}
	ctx := context.Background()
	if got, err := q.Pop(ctx, time.Second); err != nil || got != "last" {
		t.Fatalf("Pop() = (%q, %v), want last", got, err)
	}
	if _, err := q.Pop(ctx, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Pop() error = %v, want ErrClosed", err)
	}
}

func TestQueueCloseWakesBlockedPop(t *testing.T) {
	t.Parallel()

	q := New[int]()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background(), 0)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Pop() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop() did not wake on Close")
	}
}

func TestRunWorkerSurvivesPanicsAndErrors(t *testing.T) {
	t.Parallel()

	q := New[int]()
	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	q.Close()

	var handled []int
	var mu sync.Mutex
	RunWorker(context.Background(), WorkerOptions[int]{
		Name:        "test",
		Queue:       q,
		PollTimeout: 5 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Handle: func(_ context.Context, item int) error {
			mu.Lock()
			handled = append(handled, item)
			mu.Unlock()
			switch item {
			case 1:
				panic("boom")
			case 2:
				return errors.New("failed")
			}
			return nil
		},
	})
	if len(handled) != 4 {
		t.Fatalf("handled = %v, want all four items", handled)
	}
}

func TestRunWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunWorker(ctx, WorkerOptions[int]{
			Queue:       New[int](),
			PollTimeout: 5 * time.Millisecond,
			Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
			Handle:      func(context.Context, int) error { return nil },
		})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunWorker() did not return after cancel")
	}
}

func TestPoolBoundsConcurrencyAndReportsResults(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	var running, peak atomic.Int32
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		id := string(rune('a' + i))
		fail := i == 3
		err := p.Submit(ctx, id, func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			if fail {
				panic("task blew up")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	go p.Wait()

	var total, failed int
	for res := range p.Results() {
		total++
		if res.Err != nil {
			failed++
			if res.ID != "d" {
				t.Fatalf("unexpected failure for %q: %v", res.ID, res.Err)
			}
		}
	}
	if total != 6 || failed != 1 {
		t.Fatalf("results total=%d failed=%d, want 6 and 1", total, failed)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
}
