package dedup

import (
	"context"
	"strings"
	"time"
)

const (
	// MainThread stands in for the thread root of top-level messages.
	MainThread = "main"

	DefaultCooldown   = 2 * time.Second
	DefaultStaleAfter = 120 * time.Second
)

// Key identifies one unit of processing.
type Key struct {
	AuthorID       string
	ConversationID string
	EventID        string
	ThreadRootID   string
}

func NewKey(authorID, conversationID, eventID, threadRootID string) Key {
	threadRootID = strings.TrimSpace(threadRootID)
	if threadRootID == "" {
		threadRootID = MainThread
	}
	return Key{
		AuthorID:       strings.TrimSpace(authorID),
		ConversationID: strings.TrimSpace(conversationID),
		EventID:        strings.TrimSpace(eventID),
		ThreadRootID:   threadRootID,
	}
}

func (k Key) String() string {
	return k.AuthorID + ":" + k.ConversationID + ":" + k.EventID + ":" + k.ThreadRootID
}

// CooldownPrefix groups keys that share a cooldown window: same author,
// same conversation, same thread.
func (k Key) CooldownPrefix() string {
	return k.AuthorID + ":" + k.ConversationID + ":" + k.ThreadRootID
}

// Table is the admission gate shared by all workers. Admit is an atomic
// check-then-insert.
type Table interface {
	Admit(ctx context.Context, key Key) (bool, error)
	Release(ctx context.Context, key Key) error
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}
