package slackgw

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/livia/internal/history"
	"github.com/slack-go/slack"
)

const (
	DefaultBaseURL = "https://slack.com/api"

	UnknownUser    = "Unknown user"
	UnknownChannel = "Unknown channel"
	DirectMessage  = "Direct Message"

	repliesPageSize = 200
)

type Options struct {
	BotToken   string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Gateway is the bot's view of the Slack Web API.
type Gateway struct {
	api    *slack.Client
	logger *slog.Logger
}

func New(opts Options) *Gateway {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		api: slack.New(strings.TrimSpace(opts.BotToken),
			slack.OptionAPIURL(apiURL(opts.BaseURL)),
			slack.OptionHTTPClient(httpClient),
		),
		logger: logger,
	}
}

func apiURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/"
}

// PostMessage posts text into threadTS (or top level when empty) and
// returns the new message ts.
func (g *Gateway) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if strings.TrimSpace(threadTS) != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := g.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return ts, nil
}

func (g *Gateway) DeleteMessage(ctx context.Context, channelID, ts string) error {
	if _, _, err := g.api.DeleteMessageContext(ctx, channelID, ts); err != nil {
		return fmt.Errorf("slack chat.delete: %w", err)
	}
	return nil
}

// ThreadMessages returns every message of a thread, root first. Missing
// permissions yield an empty thread rather than an error.
func (g *Gateway) ThreadMessages(ctx context.Context, conversationID, rootID string) ([]history.ThreadMessage, error) {
	var out []history.ThreadMessage
	cursor := ""
	for {
		msgs, hasMore, next, err := g.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: conversationID,
			Timestamp: rootID,
			Cursor:    cursor,
			Limit:     repliesPageSize,
		})
		if err != nil {
			if f := Classify(err); f.Kind == FailurePermission {
				g.logger.Warn("slack_replies_permission_error", "channel_id", conversationID, "thread_ts", rootID, "code", f.Code)
				return nil, nil
			}
			return out, fmt.Errorf("slack conversations.replies: %w", err)
		}
		for _, m := range msgs {
			out = append(out, history.ThreadMessage{
				TS:       m.Timestamp,
				AuthorID: m.User,
				BotID:    m.BotID,
				Text:     m.Text,
			})
		}
		if !hasMore || next == "" {
			return out, nil
		}
		cursor = next
	}
}

// ThreadRootText fetches only the root message of a thread.
func (g *Gateway) ThreadRootText(ctx context.Context, conversationID, rootID string) (string, error) {
	msgs, _, _, err := g.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: conversationID,
		Timestamp: rootID,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		if f := Classify(err); f.Kind == FailurePermission {
			g.logger.Warn("slack_thread_root_permission_error", "channel_id", conversationID, "thread_ts", rootID, "code", f.Code)
			return "", nil
		}
		return "", fmt.Errorf("slack conversations.replies: %w", err)
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].Text, nil
}

// UserName prefers the real name, then the display name, then the handle.
func (g *Gateway) UserName(ctx context.Context, userID string) string {
	u, err := g.api.GetUserInfoContext(ctx, userID)
	if err != nil || u == nil {
		if err != nil {
			g.logger.Debug("slack_user_info_error", "user_id", userID, "error", err.Error())
		}
		return UnknownUser
	}
	for _, name := range []string{u.RealName, u.Profile.RealName, u.Profile.DisplayName, u.Name} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return UnknownUser
}

func (g *Gateway) ConversationName(ctx context.Context, conversationID string) string {
	ch, err := g.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: conversationID})
	if err != nil || ch == nil {
		if err != nil {
			g.logger.Debug("slack_conversation_info_error", "channel_id", conversationID, "error", err.Error())
		}
		return UnknownChannel
	}
	if ch.IsIM {
		return DirectMessage
	}
	if name := strings.TrimSpace(ch.Name); name != "" {
		return name
	}
	return UnknownChannel
}

func (g *Gateway) BotUserID(ctx context.Context) (string, error) {
	resp, err := g.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack auth.test: %w", err)
	}
	id := strings.TrimSpace(resp.UserID)
	if id == "" {
		return "", fmt.Errorf("slack auth.test returned empty user_id")
	}
	return id, nil
}

// Probe checks that the bot token still authenticates.
func (g *Gateway) Probe(ctx context.Context) error {
	_, err := g.BotUserID(ctx)
	return err
}
