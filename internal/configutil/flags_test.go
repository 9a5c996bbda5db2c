package configutil

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestFlagOrViperPrecedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("bot-token", "flag-default", "")
	cmd.Flags().Duration("cooldown", 2*time.Second, "")
	cmd.Flags().Int("workers", 1, "")

	if got := FlagOrViperString(cmd, "bot-token", "slack.bot_token"); got != "flag-default" {
		t.Fatalf("FlagOrViperString() = %q, want flag-default", got)
	}

	viper.Set("slack.bot_token", "from-viper")
	viper.Set("bot.message_cooldown", "5s")
	if got := FlagOrViperString(cmd, "bot-token", "slack.bot_token"); got != "from-viper" {
		t.Fatalf("FlagOrViperString() = %q, want from-viper", got)
	}
	if got := FlagOrViperDuration(cmd, "cooldown", "bot.message_cooldown"); got != 5*time.Second {
		t.Fatalf("FlagOrViperDuration() = %v, want 5s", got)
	}

	if err := cmd.Flags().Set("bot-token", "from-flag"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := FlagOrViperString(cmd, "bot-token", "slack.bot_token"); got != "from-flag" {
		t.Fatalf("FlagOrViperString() = %q, want from-flag", got)
	}
	if got := FlagOrViperInt(cmd, "workers", "bot.workers"); got != 1 {
		t.Fatalf("FlagOrViperInt() = %d, want 1", got)
	}
}

func TestToAllowlist(t *testing.T) {
	got := ToAllowlist([]string{" C1 ", "", "C2", "C1"})
	if len(got) != 2 || !got["C1"] || !got["C2"] {
		t.Fatalf("ToAllowlist() = %v", got)
	}
}
