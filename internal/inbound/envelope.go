package inbound

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is a Socket Mode frame.
type Envelope struct {
	EnvelopeID string              `json:"envelope_id,omitempty"`
	Type       string              `json:"type,omitempty"`
	Payload    jsoniter.RawMessage `json:"payload,omitempty"`
}

type eventsAPIPayload struct {
	TeamID  string              `json:"team_id,omitempty"`
	EventID string              `json:"event_id,omitempty"`
	Event   jsoniter.RawMessage `json:"event,omitempty"`
}

type messageBody struct {
	Type       string `json:"type,omitempty"`
	Subtype    string `json:"subtype,omitempty"`
	User       string `json:"user,omitempty"`
	Text       string `json:"text,omitempty"`
	TS         string `json:"ts,omitempty"`
	ThreadTS   string `json:"thread_ts,omitempty"`
	BotID      string `json:"bot_id,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
	Subscribed bool   `json:"subscribed,omitempty"`
}

type slackEvent struct {
	messageBody
	Channel         string       `json:"channel,omitempty"`
	ChannelType     string       `json:"channel_type,omitempty"`
	Team            string       `json:"team,omitempty"`
	EventTS         string       `json:"event_ts,omitempty"`
	Message         *messageBody `json:"message,omitempty"`
	PreviousMessage *messageBody `json:"previous_message,omitempty"`
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode socket envelope: %w", err)
	}
	return env, nil
}

// Parse turns an events_api envelope into an Event. ok is false for frames
// that carry no message event (hello, disconnect, app_home_opened, ...).
// Policy checks such as self-authorship or subtypes are left to admission.
func Parse(env Envelope) (Event, bool, error) {
	if strings.TrimSpace(env.Type) != "events_api" || len(env.Payload) == 0 {
		return Event{}, false, nil
	}
	var payload eventsAPIPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return Event{}, false, fmt.Errorf("decode events_api payload: %w", err)
	}
	if len(payload.Event) == 0 {
		return Event{}, false, nil
	}
	var ev slackEvent
	if err := json.Unmarshal(payload.Event, &ev); err != nil {
		return Event{}, false, fmt.Errorf("decode slack event: %w", err)
	}
	if strings.TrimSpace(ev.Type) != "message" {
		return Event{}, false, nil
	}
	channelID := strings.TrimSpace(ev.Channel)
	if channelID == "" {
		return Event{}, false, nil
	}
	teamID := strings.TrimSpace(payload.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(ev.Team)
	}
	chatType := normalizeChatType(ev.ChannelType, channelID)

	out := Event{
		TeamID:         teamID,
		EventID:        firstNonEmpty(ev.TS, ev.EventTS),
		ConversationID: channelID,
		ChatType:       chatType,
		Kind:           kindForChatType(chatType),
		Subtype:        strings.TrimSpace(ev.Subtype),
	}

	body := ev.messageBody
	if out.Subtype == SubtypeEdited {
		if ev.Message == nil {
			return Event{}, false, nil
		}
		body = *ev.Message
		out.Edit = &Edit{
			ReplyCount: ev.Message.ReplyCount,
			Subscribed: ev.Message.Subscribed,
		}
		if prev := ev.PreviousMessage; prev != nil {
			out.Edit.HasPrevious = true
			out.Edit.PreviousText = prev.Text
			out.Edit.PreviousThreadRootID = strings.TrimSpace(prev.ThreadTS)
			out.Edit.PreviousReplyCount = prev.ReplyCount
			out.Edit.PreviousSubscribed = prev.Subscribed
		}
	}

	out.AuthorID = strings.TrimSpace(body.User)
	out.Text = body.Text
	out.MessageTS = strings.TrimSpace(body.TS)
	out.ThreadRootID = strings.TrimSpace(body.ThreadTS)
	out.BotID = strings.TrimSpace(body.BotID)
	if out.MessageTS == "" {
		out.MessageTS = out.EventID
	}
	if out.EventID == "" {
		return Event{}, false, nil
	}
	return out, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
