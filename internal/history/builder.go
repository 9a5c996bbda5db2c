package history

import (
	"context"
	"strings"

	"github.com/quailyquaily/livia/internal/inbound"
	"github.com/quailyquaily/livia/llm"
)

// ThreadMessage is one message as returned by the thread replies call.
type ThreadMessage struct {
	TS       string
	AuthorID string
	BotID    string
	Text     string
}

type ThreadReader interface {
	ThreadMessages(ctx context.Context, conversationID, rootID string) ([]ThreadMessage, error)
}

type Builder struct {
	reader ThreadReader
}

func NewBuilder(reader ThreadReader) *Builder {
	return &Builder{reader: reader}
}

// Request describes the message being answered.
type Request struct {
	Event     inbound.Event
	BotUserID string
	// SkipTexts are bot-authored texts that never become turns, such as
	// the "working on it" placeholder.
	SkipTexts []string
}

// Build returns the turns to send for req, oldest first. Turns by the
// requester are "user"; every other author counts as "assistant". The
// requester's current message appears exactly once, as the last user turn
// unless the thread already holds it, in which case it keeps its place.
//
// On a fetch error the returned turns still contain the current message.
func (b *Builder) Build(ctx context.Context, req Request) ([]llm.Message, error) {
	ev := req.Event
	current := inbound.StripMention(ev.Text, req.BotUserID)

	var (
		msgs []ThreadMessage
		err  error
	)
	if ev.ThreadRootID != "" && b.reader != nil {
		msgs, err = b.reader.ThreadMessages(ctx, ev.ConversationID, ev.ThreadRootID)
	}

	turns := make([]llm.Message, 0, len(msgs)+1)
	found := false
	for _, m := range msgs {
		if m.TS == ev.MessageTS {
			found = true
			if current != "" {
				turns = append(turns, llm.Message{Role: llm.RoleUser, Content: current})
			}
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" || skipped(m, req) {
			continue
		}
		role := llm.RoleAssistant
		if m.AuthorID != "" && m.AuthorID == ev.AuthorID {
			role = llm.RoleUser
		}
		turns = append(turns, llm.Message{Role: role, Content: text})
	}
	if !found && current != "" {
		turns = append(turns, llm.Message{Role: llm.RoleUser, Content: current})
	}
	return turns, err
}

func skipped(m ThreadMessage, req Request) bool {
	if m.AuthorID != req.BotUserID && m.BotID == "" {
		return false
	}
	text := strings.TrimSpace(m.Text)
	for _, s := range req.SkipTexts {
		if text == strings.TrimSpace(s) {
			return true
		}
	}
	return false
}
