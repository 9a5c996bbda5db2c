package slackcmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/livia/llm"
	"github.com/spf13/cobra"
)

type LLMConfig struct {
	Provider       string
	Endpoint       string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

type Dependencies struct {
	LoggerFromViper func() (*slog.Logger, error)
	CreateLLMClient func(cfg LLMConfig) (llm.Client, error)
	Version         string
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newSlackCmd()
}

func loggerFromViper() (*slog.Logger, error) {
	if deps.LoggerFromViper == nil {
		return nil, fmt.Errorf("LoggerFromViper dependency missing")
	}
	return deps.LoggerFromViper()
}

func createLLMClient(cfg LLMConfig) (llm.Client, error) {
	if deps.CreateLLMClient == nil {
		return nil, fmt.Errorf("CreateLLMClient dependency missing")
	}
	return deps.CreateLLMClient(cfg)
}
