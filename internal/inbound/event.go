package inbound

import (
	"strconv"
	"strings"
	"time"
)

type ChannelKind string

const (
	ChannelDirect ChannelKind = "direct"
	ChannelShared ChannelKind = "channel"
)

// SubtypeEdited marks an edit notification. The edited message itself is
// carried in Event fields; the pre-edit snapshot lives in Edit.
const SubtypeEdited = "message_changed"

// Edit is the before/after snapshot of an edited message.
type Edit struct {
	HasPrevious          bool
	PreviousText         string
	PreviousThreadRootID string
	PreviousReplyCount   int
	PreviousSubscribed   bool
	ReplyCount           int
	Subscribed           bool
}

// Event is one parsed inbound message event. It is not mutated after parsing;
// helpers return modified copies.
type Event struct {
	TeamID         string
	EventID        string
	MessageTS      string
	ConversationID string
	ChatType       string
	Kind           ChannelKind
	AuthorID       string
	Text           string
	ThreadRootID   string
	Subtype        string
	BotID          string
	Edit           *Edit
}

func (e Event) IsEdit() bool {
	return e.Subtype == SubtypeEdited
}

// Fresh returns the event as if the edited message had just arrived.
func (e Event) Fresh() Event {
	e.Subtype = ""
	e.Edit = nil
	return e
}

// ReplyThreadID is the thread a reply to this event belongs in.
func (e Event) ReplyThreadID() string {
	if e.ThreadRootID != "" {
		return e.ThreadRootID
	}
	return e.MessageTS
}

// IsThreadReply reports whether the event sits under someone else's root.
func (e Event) IsThreadReply() bool {
	return e.ThreadRootID != "" && e.ThreadRootID != e.MessageTS
}

func (e Event) SentAt() (time.Time, bool) {
	return ParseTS(e.EventID)
}

// ParseTS converts a Slack "seconds.micros" timestamp.
func ParseTS(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, false
	}
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nanos = frac
	}
	return time.Unix(sec, nanos).UTC(), true
}

func normalizeChatType(channelType, channelID string) string {
	channelType = strings.ToLower(strings.TrimSpace(channelType))
	switch channelType {
	case "im", "mpim", "channel", "private_channel", "group":
		return channelType
	}
	switch {
	case strings.HasPrefix(channelID, "D"):
		return "im"
	case strings.HasPrefix(channelID, "C"):
		return "channel"
	case strings.HasPrefix(channelID, "G"):
		return "private_channel"
	default:
		return "channel"
	}
}

func kindForChatType(chatType string) ChannelKind {
	if chatType == "im" {
		return ChannelDirect
	}
	return ChannelShared
}
