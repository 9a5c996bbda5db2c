package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/quailyquaily/livia/internal/inbound"
)

const DefaultMaxEventAge = 30 * time.Second

type Reason string

const (
	ReasonSelf             Reason = "self"
	ReasonStale            Reason = "stale"
	ReasonNoAuthor         Reason = "no_author"
	ReasonSubtype          Reason = "subtype"
	ReasonMetadataEdit     Reason = "metadata_edit"
	ReasonDirect           Reason = "direct_message"
	ReasonMention          Reason = "mention"
	ReasonThreadMention    Reason = "thread_root_mention"
	ReasonRootLookupFailed Reason = "thread_root_lookup_failed"
	ReasonNotAddressed     Reason = "not_addressed"
)

type Decision struct {
	Admit  bool
	Reason Reason
	Edit   EditKind
	// Event is the event processing should continue with. For edits that
	// are admitted it is the fresh form of the edited message.
	Event inbound.Event
}

// ThreadRootReader fetches the text of a thread's root message.
type ThreadRootReader interface {
	ThreadRootText(ctx context.Context, conversationID, rootID string) (string, error)
}

type Options struct {
	Roots  ThreadRootReader
	MaxAge time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

type Filter struct {
	roots  ThreadRootReader
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewFilter(opts Options) *Filter {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxEventAge
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{roots: opts.Roots, maxAge: maxAge, now: now, logger: logger}
}

// Decide applies the admission rules in order; the first match wins.
func (f *Filter) Decide(ctx context.Context, ev inbound.Event, botUserID string) Decision {
	if botUserID != "" && ev.AuthorID == botUserID {
		return drop(ev, ReasonSelf)
	}
	if sentAt, ok := ev.SentAt(); !ok || f.now().Sub(sentAt) > f.maxAge {
		return drop(ev, ReasonStale)
	}
	if ev.IsEdit() {
		kind := ClassifyEdit(ev)
		if kind == EditMetadataOnly {
			d := drop(ev, ReasonMetadataEdit)
			d.Edit = kind
			return d
		}
		d := f.decideMessage(ctx, ev.Fresh(), botUserID)
		d.Edit = kind
		return d
	}
	return f.decideMessage(ctx, ev, botUserID)
}

func (f *Filter) decideMessage(ctx context.Context, ev inbound.Event, botUserID string) Decision {
	if ev.AuthorID == "" {
		return drop(ev, ReasonNoAuthor)
	}
	if ev.Subtype != "" {
		return drop(ev, ReasonSubtype)
	}
	if ev.Kind == inbound.ChannelDirect {
		return admit(ev, ReasonDirect)
	}
	if inbound.MentionsUser(ev.Text, botUserID) {
		return admit(ev, ReasonMention)
	}
	if !ev.IsThreadReply() || f.roots == nil {
		return drop(ev, ReasonNotAddressed)
	}
	rootText, err := f.roots.ThreadRootText(ctx, ev.ConversationID, ev.ThreadRootID)
	if err != nil {
		f.logger.Warn("admission_thread_root_error",
			"channel_id", ev.ConversationID,
			"thread_ts", ev.ThreadRootID,
			"error", err.Error(),
		)
		return drop(ev, ReasonRootLookupFailed)
	}
	if inbound.MentionsUser(rootText, botUserID) {
		return admit(ev, ReasonThreadMention)
	}
	return drop(ev, ReasonNotAddressed)
}

func admit(ev inbound.Event, reason Reason) Decision {
	return Decision{Admit: true, Reason: reason, Event: ev}
}

func drop(ev inbound.Event, reason Reason) Decision {
	return Decision{Reason: reason, Event: ev}
}
