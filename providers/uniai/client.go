package uniai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/livia/llm"
	uniaiapi "github.com/quailyquaily/uniai"
)

type Config struct {
	Provider string
	Endpoint string
	APIKey   string
	Model    string

	RequestTimeout time.Duration
}

// Client routes completions through uniai so that anthropic, gemini and
// openai-compatible backends share one code path.
type Client struct {
	provider       string
	requestTimeout time.Duration
	client         *uniaiapi.Client
	debugFn        func(label, payload string)
}

func New(cfg Config) *Client {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	apiKey := strings.TrimSpace(cfg.APIKey)
	model := strings.TrimSpace(cfg.Model)

	uCfg := uniaiapi.Config{
		Provider:        provider,
		OpenAIAPIKey:    apiKey,
		OpenAIAPIBase:   normalizeOpenAIBase(cfg.Endpoint),
		OpenAIModel:     model,
		AnthropicAPIKey: apiKey,
		AnthropicModel:  model,
		GeminiAPIKey:    apiKey,
		GeminiAPIBase:   strings.TrimSpace(cfg.Endpoint),
	}
	return &Client{
		provider:       provider,
		requestTimeout: cfg.RequestTimeout,
		client:         uniaiapi.New(uCfg),
	}
}

// SetDebugFn installs a hook that receives raw request and response payloads.
func (c *Client) SetDebugFn(fn func(label, payload string)) {
	c.debugFn = fn
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.client.Chat(ctx, buildChatOptions(req, c.provider, c.debugFn)...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return llm.Result{}, llm.NewError(llm.KindTimeout, c.provider, err)
		}
		return llm.Result{}, llm.NewError(llm.KindOf(err), c.provider, err)
	}
	if resp == nil {
		return llm.Result{}, llm.NewError(llm.KindInternal, c.provider, fmt.Errorf("uniai: empty response"))
	}
	return llm.Result{
		Text: resp.Text,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

func buildChatOptions(req llm.Request, provider string, debugFn func(label, payload string)) []uniaiapi.ChatOption {
	msgs := make([]uniaiapi.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = uniaiapi.Message{Role: m.Role, Content: m.Content}
	}

	opts := []uniaiapi.ChatOption{uniaiapi.WithReplaceMessages(msgs...)}
	if provider != "" {
		opts = append(opts, uniaiapi.WithProvider(provider))
	}
	if strings.TrimSpace(req.Model) != "" {
		opts = append(opts, uniaiapi.WithModel(strings.TrimSpace(req.Model)))
	}
	if req.Parameters != nil {
		if v, ok := intFromAny(req.Parameters["max_tokens"]); ok && v > 0 {
			opts = append(opts, uniaiapi.WithMaxTokens(v))
		}
		if v, ok := req.Parameters["temperature"].(float64); ok {
			opts = append(opts, uniaiapi.WithTemperature(v))
		}
	}
	if debugFn != nil {
		opts = append(opts, uniaiapi.WithDebugFn(debugFn))
	}
	return opts
}

func normalizeOpenAIBase(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(endpoint, "/v1") || strings.Contains(endpoint, "/v1/") {
		return endpoint
	}
	return endpoint + "/v1"
}

func intFromAny(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if val, err := v.Int64(); err == nil {
			return int(val), true
		}
	case string:
		if val, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return val, true
		}
	}
	return 0, false
}
