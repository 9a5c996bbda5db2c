package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrency = 8

// Result reports how one pool task ended.
type Result struct {
	ID       string
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Pool runs tasks with bounded concurrency and publishes every outcome on
// Results. Results must be drained or the pool stalls once the buffer fills.
type Pool struct {
	sem     *semaphore.Weighted
	results chan Result
	wg      sync.WaitGroup
	once    sync.Once
}

func NewPool(maxConcurrency int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		results: make(chan Result, maxConcurrency*4),
	}
}

func (p *Pool) Results() <-chan Result {
	return p.results
}

// Submit blocks until a slot frees up or ctx ends, then runs fn on its own
// goroutine. Panics inside fn are reported as errors.
func (p *Pool) Submit(ctx context.Context, id string, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		start := time.Now()
		err := p.run(ctx, fn)
		p.results <- Result{ID: id, Err: err, Started: start, Duration: time.Since(start)}
	}()
	return nil
}

func (p *Pool) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Wait blocks until every submitted task finished, then closes Results.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.once.Do(func() { close(p.results) })
}
