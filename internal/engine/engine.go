package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/livia/internal/admission"
	"github.com/quailyquaily/livia/internal/dedup"
	"github.com/quailyquaily/livia/internal/dispatch"
	"github.com/quailyquaily/livia/internal/history"
	"github.com/quailyquaily/livia/internal/inbound"
	"github.com/quailyquaily/livia/internal/promptprofile"
	"github.com/quailyquaily/livia/internal/queue"
	"github.com/quailyquaily/livia/internal/taskstore"
	"github.com/quailyquaily/livia/internal/usagelog"
)

const (
	DefaultWorkers     = 1
	DefaultTaskTimeout = 5 * time.Minute
)

// Gateway is everything the engine needs from the chat platform.
type Gateway interface {
	admission.ThreadRootReader
	history.ThreadReader
	dispatch.Poster
	UserName(ctx context.Context, userID string) string
	ConversationName(ctx context.Context, conversationID string) string
	BotUserID(ctx context.Context) (string, error)
}

type Options struct {
	Gateway    Gateway
	Filter     *admission.Filter
	Dedup      dedup.Table
	History    *history.Builder
	Dispatcher *dispatch.Dispatcher
	Profiles   *promptprofile.Set
	Usage      *usagelog.Recorder
	Tasks      *taskstore.MemoryStore

	Workers        int
	MaxConcurrency int
	PollTimeout    time.Duration
	TaskTimeout    time.Duration
	Model          string

	// AllowedChannels limits which conversations are processed. Empty
	// means all.
	AllowedChannels map[string]bool
	Logger          *slog.Logger
}

// Engine turns inbound envelopes into replies: it queues events, admits
// them, dedups them, and hands the survivors to a bounded pool.
type Engine struct {
	gw         Gateway
	filter     *admission.Filter
	dedup      dedup.Table
	history    *history.Builder
	dispatcher *dispatch.Dispatcher
	profiles   *promptprofile.Set
	usage      *usagelog.Recorder
	tasks      *taskstore.MemoryStore

	queue       *queue.Queue[inbound.Event]
	pool        *queue.Pool
	workers     int
	pollTimeout time.Duration
	taskTimeout time.Duration
	model       string
	allowed     map[string]bool
	logger      *slog.Logger

	botMu     sync.Mutex
	botUserID string
}

func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("engine: gateway is required")
	}
	if opts.Filter == nil || opts.Dedup == nil || opts.History == nil || opts.Dispatcher == nil {
		return nil, errors.New("engine: filter, dedup, history and dispatcher are required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	profiles := opts.Profiles
	if profiles == nil {
		profiles = promptprofile.Default()
	}
	tasks := opts.Tasks
	if tasks == nil {
		tasks = taskstore.NewMemoryStore(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gw:          opts.Gateway,
		filter:      opts.Filter,
		dedup:       opts.Dedup,
		history:     opts.History,
		dispatcher:  opts.Dispatcher,
		profiles:    profiles,
		usage:       opts.Usage,
		tasks:       tasks,
		queue:       queue.New[inbound.Event](),
		pool:        queue.NewPool(opts.MaxConcurrency),
		workers:     workers,
		pollTimeout: opts.PollTimeout,
		taskTimeout: taskTimeout,
		model:       strings.TrimSpace(opts.Model),
		allowed:     opts.AllowedChannels,
		logger:      logger,
	}, nil
}

func (e *Engine) Tasks() *taskstore.MemoryStore { return e.tasks }

func (e *Engine) QueueLen() int { return e.queue.Len() }

// HandleEnvelope is the socket callback. It only parses and enqueues so
// the envelope is acknowledged without waiting on any processing.
func (e *Engine) HandleEnvelope(env inbound.Envelope) error {
	ev, ok, err := inbound.Parse(env)
	if err != nil {
		e.logger.Warn("inbound_parse_error", "envelope_id", env.EnvelopeID, "error", err.Error())
		return nil
	}
	if !ok {
		return nil
	}
	e.Enqueue(ev)
	return nil
}

// Enqueue adds ev to the event queue unless its conversation is filtered
// out or the queue is closed.
func (e *Engine) Enqueue(ev inbound.Event) bool {
	if len(e.allowed) > 0 && !e.allowed[ev.ConversationID] {
		e.logger.Debug("inbound_channel_not_allowed", "channel_id", ev.ConversationID)
		return false
	}
	if !e.queue.Push(ev) {
		e.logger.Warn("inbound_queue_closed", "channel_id", ev.ConversationID, "ts", ev.MessageTS)
		return false
	}
	e.logger.Debug("inbound_enqueued",
		"channel_id", ev.ConversationID,
		"ts", ev.MessageTS,
		"subtype", ev.Subtype,
		"queue_len", e.queue.Len(),
	)
	return true
}

// Run processes the queue until ctx ends, then drains in-flight replies.
func (e *Engine) Run(ctx context.Context) error {
	resultsDone := make(chan struct{})
	go func() {
		defer close(resultsDone)
		e.consumeResults()
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			queue.RunWorker(ctx, queue.WorkerOptions[inbound.Event]{
				Name:        fmt.Sprintf("event-%d", i),
				Queue:       e.queue,
				PollTimeout: e.pollTimeout,
				Handle:      e.process,
				Logger:      e.logger,
			})
		}(i)
	}
	e.logger.Info("engine_start", "workers", e.workers, "task_timeout", e.taskTimeout.String())

	<-ctx.Done()
	e.queue.Close()
	wg.Wait()
	e.pool.Wait()
	<-resultsDone
	e.logger.Info("engine_stop", "dropped_events", e.queue.Len())
	return nil
}

func (e *Engine) process(ctx context.Context, ev inbound.Event) error {
	botUserID, err := e.resolveBotUserID(ctx)
	if err != nil {
		return err
	}

	d := e.filter.Decide(ctx, ev, botUserID)
	if !d.Admit {
		e.logger.Debug("admission_drop",
			"channel_id", ev.ConversationID,
			"ts", ev.MessageTS,
			"reason", string(d.Reason),
			"edit", string(d.Edit),
		)
		return nil
	}
	ev = d.Event

	key := dedup.NewKey(ev.AuthorID, ev.ConversationID, ev.EventID, ev.ThreadRootID)
	ok, err := e.dedup.Admit(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup admit %s: %w", key, err)
	}
	if !ok {
		e.logger.Info("dedup_reject", "key", key.String())
		return nil
	}

	id := taskstore.NewTaskID()
	e.tasks.Upsert(taskstore.TaskInfo{
		ID:        id,
		Status:    taskstore.TaskQueued,
		EventID:   ev.EventID,
		ChannelID: ev.ConversationID,
		ThreadTS:  ev.ReplyThreadID(),
		AuthorID:  ev.AuthorID,
		Edit:      string(d.Edit),
		Model:     e.model,
		CreatedAt: time.Now().UTC(),
	})
	e.logger.Info("admission_accept",
		"task_id", id,
		"channel_id", ev.ConversationID,
		"ts", ev.MessageTS,
		"reason", string(d.Reason),
		"edit", string(d.Edit),
	)

	err = e.pool.Submit(ctx, id, func(ctx context.Context) error {
		return e.runTask(ctx, id, ev, key, botUserID)
	})
	if err != nil {
		e.release(key)
		e.tasks.Update(id, func(info *taskstore.TaskInfo) {
			info.Status = taskstore.TaskFailed
			info.Error = err.Error()
		})
		return fmt.Errorf("submit %s: %w", id, err)
	}
	return nil
}

func (e *Engine) runTask(ctx context.Context, id string, ev inbound.Event, key dedup.Key, botUserID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.taskTimeout)
	defer cancel()

	dispatched := false
	defer func() {
		if !dispatched {
			e.release(key)
		}
	}()

	now := time.Now().UTC()
	e.tasks.Update(id, func(info *taskstore.TaskInfo) {
		info.Status = taskstore.TaskRunning
		info.StartedAt = &now
	})

	channelName := e.gw.ConversationName(ctx, ev.ConversationID)
	profile := e.profiles.For(ev.ConversationID, channelName)

	turns, err := e.history.Build(ctx, history.Request{
		Event:     ev,
		BotUserID: botUserID,
		SkipTexts: []string{profile.Placeholder},
	})
	if err != nil {
		e.logger.Warn("history_fetch_error",
			"task_id", id,
			"channel_id", ev.ConversationID,
			"thread_ts", ev.ThreadRootID,
			"error", err.Error(),
		)
	}
	if e.usage != nil {
		e.usage.Record(ctx, usagelog.Record{
			UserID:      ev.AuthorID,
			UserName:    e.gw.UserName(ctx, ev.AuthorID),
			ChannelName: channelName,
			Timestamp:   time.Now(),
			Category:    profile.Category,
		})
	}

	if len(turns) == 0 {
		e.logger.Info("reply_skipped_empty", "task_id", id, "channel_id", ev.ConversationID)
		return nil
	}
	e.tasks.Update(id, func(info *taskstore.TaskInfo) { info.HistoryTurns = len(turns) })

	dispatched = true
	out := e.dispatcher.Dispatch(ctx, dispatch.Job{
		Key:          key,
		ChannelID:    ev.ConversationID,
		ThreadTS:     ev.ReplyThreadID(),
		SystemPrompt: profile.SystemPrompt,
		Placeholder:  profile.Placeholder,
		Turns:        turns,
	})
	e.tasks.Update(id, func(info *taskstore.TaskInfo) {
		info.Attempts = out.Attempts
		info.Fallback = string(out.Fallback)
	})
	return out.Err
}

func (e *Engine) consumeResults() {
	for r := range e.pool.Results() {
		finished := time.Now().UTC()
		e.tasks.Update(r.ID, func(info *taskstore.TaskInfo) {
			info.FinishedAt = &finished
			if r.Err != nil {
				info.Status = taskstore.TaskFailed
				info.Error = r.Err.Error()
				return
			}
			info.Status = taskstore.TaskDone
		})
		if r.Err != nil {
			e.logger.Warn("reply_task_failed", "task_id", r.ID, "duration", r.Duration.String(), "error", r.Err.Error())
			continue
		}
		e.logger.Info("reply_task_done", "task_id", r.ID, "duration", r.Duration.String())
	}
}

func (e *Engine) resolveBotUserID(ctx context.Context) (string, error) {
	e.botMu.Lock()
	defer e.botMu.Unlock()
	if e.botUserID != "" {
		return e.botUserID, nil
	}
	id, err := e.gw.BotUserID(ctx)
	if err != nil {
		return "", err
	}
	e.botUserID = id
	return id, nil
}

func (e *Engine) release(key dedup.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.dedup.Release(ctx, key); err != nil {
		e.logger.Warn("dedup_release_error", "key", key.String(), "error", err.Error())
	}
}
