package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/livia/llm"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const providerName = "openai"

type Config struct {
	Endpoint string
	APIKey   string
	Model    string

	RequestTimeout time.Duration
	MaxRetries     int
	HTTPClient     *http.Client
}

// Client talks to the Chat Completions API through the official SDK.
type Client struct {
	client         openaisdk.Client
	model          string
	requestTimeout time.Duration
}

func New(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if base := normalizeBaseURL(cfg.Endpoint); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Client{
		client:         openaisdk.NewClient(opts...),
		model:          strings.TrimSpace(cfg.Model),
		requestTimeout: cfg.RequestTimeout,
	}
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.client.Chat.Completions.New(ctx, buildParams(req, c.model))
	if err != nil {
		return llm.Result{}, classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Result{}, llm.NewError(llm.KindInternal, providerName, fmt.Errorf("no choices in response"))
	}
	return llm.Result{
		Text: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		Duration: time.Since(start),
	}, nil
}

func buildParams(req llm.Request, defaultModel string) openaisdk.ChatCompletionNewParams {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultModel
	}
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, openaisdk.SystemMessage(m.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, openaisdk.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openaisdk.UserMessage(m.Content))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(model),
		Messages: msgs,
	}
	if v, ok := req.Parameters["max_tokens"].(int); ok && v > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(v))
	}
	if v, ok := req.Parameters["temperature"].(float64); ok {
		params.Temperature = openaisdk.Float(v)
	}
	if v, ok := req.Parameters["reasoning_effort"].(string); ok {
		if effort, ok := reasoningEffort(v); ok {
			params.ReasoningEffort = effort
		}
	}
	return params
}

func reasoningEffort(raw string) (shared.ReasoningEffort, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return shared.ReasoningEffortLow, true
	case "medium":
		return shared.ReasoningEffortMedium, true
	case "high":
		return shared.ReasoningEffortHigh, true
	default:
		return "", false
	}
}

// classify never calls apiErr.Error(): the SDK error formats its request,
// which is absent on errors built outside a live call.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewError(llm.KindTimeout, providerName, err)
	}
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		code := strings.ToLower(apiErr.Code + " " + apiErr.Type)
		switch {
		case strings.Contains(code, "insufficient_quota"):
			return llm.NewError(llm.KindQuota, providerName, err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return llm.NewError(llm.KindRateLimit, providerName, err)
		case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusGatewayTimeout:
			return llm.NewError(llm.KindTimeout, providerName, err)
		default:
			return llm.NewError(llm.KindInternal, providerName, err)
		}
	}
	return llm.NewError(llm.KindOf(err), providerName, err)
}

func normalizeBaseURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/v1") && !strings.Contains(endpoint, "/v1/") {
		endpoint += "/v1"
	}
	return endpoint + "/"
}
