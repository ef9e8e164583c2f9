package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nmdchub/nmdchub/internal/logger"
)

// Validate checks the configuration against the struct validation tags plus
// the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if _, ok := logger.ParseLevel(cfg.Logging.Level); !ok {
		return fmt.Errorf("invalid log level %q", cfg.Logging.Level)
	}

	if err := cfg.Database.Validate(); err != nil {
		return err
	}

	// Bot nicks become roster entries; a space would break $Hello framing.
	for _, nick := range []string{cfg.Hub.AdvancedBotName, cfg.Hub.OpChatName, cfg.Hub.LogBotName} {
		if strings.ContainsAny(nick, " |$") {
			return fmt.Errorf("bot nick %q contains reserved characters", nick)
		}
	}

	if cfg.Hub.AdvancedBotName == cfg.Hub.OpChatName ||
		cfg.Hub.AdvancedBotName == cfg.Hub.LogBotName ||
		cfg.Hub.OpChatName == cfg.Hub.LogBotName {
		return fmt.Errorf("bot nicks must be distinct")
	}

	return nil
}
