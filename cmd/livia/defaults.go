package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// LLM
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.model", "o3-mini")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.request_timeout", 120*time.Second)
	viper.SetDefault("llm.max_tokens", 4095)
	viper.SetDefault("llm.reasoning_effort", "medium")
	viper.SetDefault("llm.max_retries", 0)

	// Slack
	viper.SetDefault("slack.base_url", "https://slack.com/api")
	viper.SetDefault("slack.allowed_channel_ids", []string{})

	// Event pipeline
	viper.SetDefault("bot.max_event_age", 30*time.Second)
	viper.SetDefault("bot.message_cooldown", 2*time.Second)
	viper.SetDefault("bot.workers", 1)
	viper.SetDefault("bot.max_concurrency", 8)
	viper.SetDefault("bot.poll_timeout", 1*time.Second)
	viper.SetDefault("bot.task_timeout", 5*time.Minute)

	// Dedup
	viper.SetDefault("dedup.backend", "memory")
	viper.SetDefault("dedup.redis_url", "")
	viper.SetDefault("dedup.key_prefix", "livia:dedup:")

	// Health
	viper.SetDefault("health.interval", 300*time.Second)
	viper.SetDefault("health.stale_after", 120*time.Second)
	viper.SetDefault("health.listen", "")
	viper.SetDefault("health.auth_token", "")

	// Reply dispatch
	viper.SetDefault("dispatch.max_attempts", 3)
	viper.SetDefault("dispatch.rate_limit_base_delay", 1*time.Second)
	viper.SetDefault("dispatch.retry_step", 1*time.Second)

	// Usage log
	viper.SetDefault("usage.csv_path", "usage_log.csv")
	viper.SetDefault("usage.postgres_dsn", "")

	viper.SetDefault("prompt.profiles_path", "")

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)
}
