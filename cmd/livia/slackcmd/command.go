package slackcmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quailyquaily/livia/internal/admission"
	"github.com/quailyquaily/livia/internal/configutil"
	"github.com/quailyquaily/livia/internal/dedup"
	"github.com/quailyquaily/livia/internal/dispatch"
	"github.com/quailyquaily/livia/internal/engine"
	"github.com/quailyquaily/livia/internal/healthcheck"
	"github.com/quailyquaily/livia/internal/healthmon"
	"github.com/quailyquaily/livia/internal/history"
	"github.com/quailyquaily/livia/internal/promptprofile"
	"github.com/quailyquaily/livia/internal/slackgw"
	"github.com/quailyquaily/livia/internal/taskstore"
	"github.com/quailyquaily/livia/internal/usagelog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSlackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Run the Slack bot with Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token, LIVIA_SLACK_BOT_TOKEN or SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token, LIVIA_SLACK_APP_TOKEN or SLACK_APP_TOKEN)")
			}
			apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
			if apiKey == "" {
				return fmt.Errorf("missing llm.api_key (set via LIVIA_LLM_API_KEY or OPENAI_API_KEY)")
			}
			allowedChannels := configutil.ToAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-channel-id", "slack.allowed_channel_ids"))

			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			httpClient := &http.Client{Timeout: 30 * time.Second}
			baseURL := strings.TrimSpace(viper.GetString("slack.base_url"))
			gw := slackgw.New(slackgw.Options{
				BotToken:   botToken,
				BaseURL:    baseURL,
				HTTPClient: httpClient,
				Logger:     logger,
			})
			botUserID, err := gw.BotUserID(ctx)
			if err != nil {
				return err
			}

			model := strings.TrimSpace(viper.GetString("llm.model"))
			client, err := createLLMClient(LLMConfig{
				Provider:       viper.GetString("llm.provider"),
				Endpoint:       viper.GetString("llm.endpoint"),
				APIKey:         apiKey,
				Model:          model,
				RequestTimeout: viper.GetDuration("llm.request_timeout"),
			})
			if err != nil {
				return err
			}

			cooldown := configutil.FlagOrViperDuration(cmd, "message-cooldown", "bot.message_cooldown")
			table, closeTable, err := dedupTableFromViper(cooldown)
			if err != nil {
				return err
			}
			defer closeTable()

			profiles, err := promptprofile.Load(viper.GetString("prompt.profiles_path"))
			if err != nil {
				return err
			}

			usageSink, err := usageSinkFromViper(ctx)
			if err != nil {
				return err
			}
			if usageSink != nil {
				defer func() { _ = usageSink.Close() }()
			}

			dispatcher := dispatch.New(dispatch.Options{
				Poster:    gw,
				Completer: client,
				Dedup:     table,
				Policy: dispatch.RetryPolicy{
					MaxAttempts:        viper.GetInt("dispatch.max_attempts"),
					RateLimitBaseDelay: viper.GetDuration("dispatch.rate_limit_base_delay"),
					RetryStep:          viper.GetDuration("dispatch.retry_step"),
				},
				Model:           model,
				MaxTokens:       viper.GetInt("llm.max_tokens"),
				ReasoningEffort: viper.GetString("llm.reasoning_effort"),
				Timeout:         viper.GetDuration("llm.request_timeout"),
				Logger:          logger,
			})

			tasks := taskstore.NewMemoryStore(0)
			eng, err := engine.New(engine.Options{
				Gateway: gw,
				Filter: admission.NewFilter(admission.Options{
					Roots:  gw,
					MaxAge: configutil.FlagOrViperDuration(cmd, "max-event-age", "bot.max_event_age"),
					Logger: logger,
				}),
				Dedup:           table,
				History:         history.NewBuilder(gw),
				Dispatcher:      dispatcher,
				Profiles:        profiles,
				Usage:           usagelog.NewRecorder(usageSink, logger),
				Tasks:           tasks,
				Workers:         configutil.FlagOrViperInt(cmd, "workers", "bot.workers"),
				MaxConcurrency:  configutil.FlagOrViperInt(cmd, "max-concurrency", "bot.max_concurrency"),
				PollTimeout:     viper.GetDuration("bot.poll_timeout"),
				TaskTimeout:     configutil.FlagOrViperDuration(cmd, "task-timeout", "bot.task_timeout"),
				Model:           model,
				AllowedChannels: allowedChannels,
				Logger:          logger,
			})
			if err != nil {
				return err
			}

			monitor := healthmon.New(healthmon.Options{
				Table:      table,
				Prober:     gw,
				Interval:   viper.GetDuration("health.interval"),
				StaleAfter: viper.GetDuration("health.stale_after"),
				Logger:     logger,
			})
			go monitor.Run(ctx)

			if listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "health-listen", "health.listen")); listen != "" {
				_, err := healthcheck.StartServer(ctx, logger, healthcheck.ServerOptions{
					Listen: listen,
					Routes: healthcheck.RoutesOptions{
						Version:   deps.Version,
						AuthToken: viper.GetString("health.auth_token"),
						Status:    monitor.Status,
						Tasks:     tasks,
						QueueLen:  eng.QueueLen,
					},
				})
				if err != nil {
					logger.Warn("health_server_start_error", "addr", listen, "error", err.Error())
				}
			}

			engineDone := make(chan error, 1)
			go func() { engineDone <- eng.Run(ctx) }()

			logger.Info("slack_start",
				"bot_user_id", botUserID,
				"model", model,
				"provider", viper.GetString("llm.provider"),
				"dedup_backend", viper.GetString("dedup.backend"),
				"allowed_channel_ids", len(allowedChannels),
				"prompt_profiles", profiles.Len(),
			)

			socket := slackgw.NewSocket(slackgw.SocketOptions{
				AppToken:   appToken,
				BaseURL:    baseURL,
				HTTPClient: httpClient,
				Logger:     logger,
			})
			socketErr := socket.Run(ctx, eng.HandleEnvelope)
			stop()
			if err := <-engineDone; err != nil {
				return err
			}
			logger.Info("slack_stop", "reason", "context_canceled")
			return socketErr
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	cmd.Flags().StringArray("slack-allowed-channel-id", nil, "Allowed channel id(s). Repeatable; empty allows all.")
	cmd.Flags().Duration("message-cooldown", 0, "Minimum spacing between replies to the same person in the same thread.")
	cmd.Flags().Duration("max-event-age", 0, "Events older than this are ignored.")
	cmd.Flags().Int("workers", 0, "Number of event queue workers.")
	cmd.Flags().Int("max-concurrency", 0, "Maximum replies generated at once.")
	cmd.Flags().Duration("task-timeout", 0, "Upper bound for one reply task.")
	cmd.Flags().String("health-listen", "", "Address for the health HTTP server (empty disables it).")

	return cmd
}

func dedupTableFromViper(cooldown time.Duration) (dedup.Table, func(), error) {
	backend := strings.ToLower(strings.TrimSpace(viper.GetString("dedup.backend")))
	switch backend {
	case "", "memory":
		return dedup.NewMemoryTable(cooldown, nil), func() {}, nil
	case "redis":
		opts, err := redis.ParseURL(strings.TrimSpace(viper.GetString("dedup.redis_url")))
		if err != nil {
			return nil, nil, fmt.Errorf("parse dedup.redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		table := dedup.NewRedisTable(client, dedup.RedisOptions{
			Prefix:   viper.GetString("dedup.key_prefix"),
			Cooldown: cooldown,
			TTL:      viper.GetDuration("health.stale_after"),
		})
		return table, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dedup.backend %q", backend)
	}
}

func usageSinkFromViper(ctx context.Context) (usagelog.Sink, error) {
	var sinks usagelog.MultiSink
	if path := strings.TrimSpace(viper.GetString("usage.csv_path")); path != "" {
		s, err := usagelog.NewCSVSink(path)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if dsn := strings.TrimSpace(viper.GetString("usage.postgres_dsn")); dsn != "" {
		s, err := usagelog.NewPostgresSink(ctx, usagelog.PostgresConfig{DSN: dsn})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}
