package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/livia/cmd/livia/slackcmd"
	"github.com/quailyquaily/livia/llm"
	openaiprovider "github.com/quailyquaily/livia/providers/openai"
	uniaiprovider "github.com/quailyquaily/livia/providers/uniai"
	"github.com/spf13/viper"
)

// llmClientFromConfig picks the official OpenAI SDK for "openai" and routes
// every other provider through uniai.
func llmClientFromConfig(cfg slackcmd.LLMConfig) (llm.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "openai":
		return openaiprovider.New(openaiprovider.Config{
			Endpoint:       cfg.Endpoint,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			RequestTimeout: cfg.RequestTimeout,
			MaxRetries:     viper.GetInt("llm.max_retries"),
		}), nil
	case "openai_custom", "deepseek", "xai", "gemini", "anthropic":
		c := uniaiprovider.New(uniaiprovider.Config{
			Provider:       provider,
			Endpoint:       cfg.Endpoint,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			RequestTimeout: cfg.RequestTimeout,
		})
		if viper.GetBool("trace") {
			c.SetDebugFn(traceDebugFn(slog.Default()))
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported llm.provider %q", cfg.Provider)
	}
}

// traceDebugFn writes uniai request and response dumps to logger at debug level.
func traceDebugFn(logger *slog.Logger) func(label, payload string) {
	return func(label, payload string) {
		logger.Debug("llm_trace", "label", label, "payload", payload)
	}
}
