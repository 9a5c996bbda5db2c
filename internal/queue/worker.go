package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

const DefaultPollTimeout = time.Second

type WorkerOptions[T any] struct {
	Name        string
	Queue       *Queue[T]
	PollTimeout time.Duration
	Handle      func(context.Context, T) error
	Logger      *slog.Logger
}

// RunWorker drains the queue until it is closed or ctx ends. A failing or
// panicking Handle is logged and the loop moves on to the next item.
func RunWorker[T any](ctx context.Context, opts WorkerOptions[T]) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.PollTimeout
	if poll <= 0 {
		poll = DefaultPollTimeout
	}
	for {
		item, err := opts.Queue.Pop(ctx, poll)
		switch {
		case err == nil:
		case errors.Is(err, ErrEmpty):
			continue
		case errors.Is(err, ErrClosed):
			logger.Info("worker_stop", "worker", opts.Name, "reason", "queue_closed")
			return
		default:
			logger.Info("worker_stop", "worker", opts.Name, "reason", "context_canceled")
			return
		}
		if err := runSafely(ctx, opts.Handle, item); err != nil {
			logger.Warn("worker_item_error", "worker", opts.Name, "error", err.Error())
		}
	}
}

func runSafely[T any](ctx context.Context, fn func(context.Context, T) error, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, item)
}
