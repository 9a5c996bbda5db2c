package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/quailyquaily/livia/internal/dedup"
	"github.com/quailyquaily/livia/internal/outputfmt"
	"github.com/quailyquaily/livia/internal/slackgw"
	"github.com/quailyquaily/livia/llm"
)

const (
	DefaultMaxTokens  = 4095
	DefaultLLMTimeout = 120 * time.Second

	EmptyCompletion = "No response content."

	cleanupTimeout = 10 * time.Second
)

var fallbackReplies = map[llm.ErrorKind]string{
	llm.KindTimeout:   "Sorry, the answer took too long to generate. Please try again in a moment.",
	llm.KindRateLimit: "I'm receiving too many requests right now. Please try again in a few seconds.",
	llm.KindQuota:     "The AI service usage quota has been reached. Please let the workspace admins know.",
	llm.KindInternal:  "Something went wrong while generating the answer. Please try again.",
}

// FallbackReply is the text posted instead of a completion that failed.
func FallbackReply(kind llm.ErrorKind) string {
	if s, ok := fallbackReplies[kind]; ok {
		return s
	}
	return fallbackReplies[llm.KindInternal]
}

// Poster is the slice of the chat gateway the dispatcher writes through.
type Poster interface {
	PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error)
	DeleteMessage(ctx context.Context, channelID, ts string) error
}

type Options struct {
	Poster    Poster
	Completer llm.Client
	Dedup     dedup.Table
	Policy    RetryPolicy

	Model           string
	MaxTokens       int
	ReasoningEffort string
	Timeout         time.Duration

	// Sleep waits between post attempts; tests swap it out.
	Sleep  func(context.Context, time.Duration) error
	Logger *slog.Logger
}

type Dispatcher struct {
	poster    Poster
	completer llm.Client
	dedup     dedup.Table
	policy    RetryPolicy

	model           string
	maxTokens       int
	reasoningEffort string
	timeout         time.Duration

	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger
}

func New(opts Options) *Dispatcher {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		poster:          opts.Poster,
		completer:       opts.Completer,
		dedup:           opts.Dedup,
		policy:          opts.Policy.normalized(),
		model:           strings.TrimSpace(opts.Model),
		maxTokens:       maxTokens,
		reasoningEffort: strings.TrimSpace(opts.ReasoningEffort),
		timeout:         timeout,
		sleep:           sleep,
		logger:          logger,
	}
}

// Job is one reply to produce.
type Job struct {
	Key          dedup.Key
	ChannelID    string
	ThreadTS     string
	SystemPrompt string
	Placeholder  string
	Turns        []llm.Message
}

type Outcome struct {
	Posted   bool
	ReplyTS  string
	Attempts int
	// Fallback is set when a failure text replaced the completion.
	Fallback llm.ErrorKind
	Usage    llm.Usage
	Err      error
}

// Dispatch posts a placeholder, asks the model, posts the formatted reply
// with retries, and always removes the placeholder and releases the dedup
// entry, even when a step panics.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (out Outcome) {
	var placeholderTS string
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("dispatch panic: %v", r)
			d.logger.Error("dispatch_panic",
				"channel_id", job.ChannelID,
				"thread_ts", job.ThreadTS,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		d.cleanup(ctx, job, placeholderTS)
	}()

	placeholderTS = d.postPlaceholder(ctx, job)

	text, res, kind := d.complete(ctx, job)
	out.Fallback = kind
	out.Usage = res.Usage

	reply := outputfmt.FormatReply(text)
	if reply == "" {
		reply = EmptyCompletion
	}

	ts, attempts, err := d.postWithRetry(ctx, job, reply)
	out.Attempts = attempts
	if err != nil {
		out.Err = err
		return out
	}
	out.Posted = true
	out.ReplyTS = ts
	return out
}

func (d *Dispatcher) postPlaceholder(ctx context.Context, job Job) string {
	text := strings.TrimSpace(job.Placeholder)
	if text == "" {
		return ""
	}
	ts, err := d.poster.PostMessage(ctx, job.ChannelID, job.ThreadTS, text)
	if err != nil {
		d.logger.Warn("dispatch_placeholder_error",
			"channel_id", job.ChannelID,
			"thread_ts", job.ThreadTS,
			"error", err.Error(),
		)
		return ""
	}
	return ts
}

func (d *Dispatcher) complete(ctx context.Context, job Job) (string, llm.Result, llm.ErrorKind) {
	msgs := make([]llm.Message, 0, len(job.Turns)+1)
	if s := strings.TrimSpace(job.SystemPrompt); s != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: s})
	}
	msgs = append(msgs, job.Turns...)

	params := map[string]any{"max_tokens": d.maxTokens}
	if d.reasoningEffort != "" {
		params["reasoning_effort"] = d.reasoningEffort
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := d.completer.Chat(callCtx, llm.Request{
		Model:      d.model,
		Messages:   msgs,
		Parameters: params,
	})
	if err != nil {
		kind := llm.KindOf(err)
		if callCtx.Err() == context.DeadlineExceeded {
			kind = llm.KindTimeout
		}
		d.logger.Warn("dispatch_llm_error",
			"channel_id", job.ChannelID,
			"thread_ts", job.ThreadTS,
			"kind", string(kind),
			"error", err.Error(),
		)
		return FallbackReply(kind), res, kind
	}
	d.logger.Debug("dispatch_llm_done",
		"channel_id", job.ChannelID,
		"turns", len(job.Turns),
		"output_tokens", res.Usage.OutputTokens,
		"duration", res.Duration.String(),
	)
	return res.Text, res, ""
}

func (d *Dispatcher) postWithRetry(ctx context.Context, job Job, text string) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		ts, err := d.poster.PostMessage(ctx, job.ChannelID, job.ThreadTS, text)
		if err == nil {
			return ts, attempt, nil
		}
		lastErr = err
		f := slackgw.Classify(err)
		if !f.Retryable() {
			d.logger.Warn("dispatch_post_aborted",
				"channel_id", job.ChannelID,
				"attempt", attempt,
				"code", f.Code,
				"error", err.Error(),
			)
			return "", attempt, err
		}
		if attempt == d.policy.MaxAttempts {
			break
		}
		wait := d.policy.Delay(f, attempt)
		d.logger.Info("dispatch_post_retry",
			"channel_id", job.ChannelID,
			"attempt", attempt,
			"kind", string(f.Kind),
			"wait", wait.String(),
		)
		if err := d.sleep(ctx, wait); err != nil {
			return "", attempt, err
		}
	}
	d.logger.Error("dispatch_post_exhausted",
		"channel_id", job.ChannelID,
		"thread_ts", job.ThreadTS,
		"attempts", d.policy.MaxAttempts,
		"error", lastErr.Error(),
	)
	return "", d.policy.MaxAttempts, lastErr
}

// cleanup runs detached from ctx so a cancelled task still tidies up.
func (d *Dispatcher) cleanup(ctx context.Context, job Job, placeholderTS string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if placeholderTS != "" {
		if err := d.poster.DeleteMessage(cctx, job.ChannelID, placeholderTS); err != nil {
			d.logger.Warn("dispatch_placeholder_delete_error",
				"channel_id", job.ChannelID,
				"ts", placeholderTS,
				"error", err.Error(),
			)
		}
	}
	if d.dedup != nil {
		if err := d.dedup.Release(cctx, job.Key); err != nil {
			d.logger.Warn("dispatch_dedup_release_error", "key", job.Key.String(), "error", err.Error())
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
