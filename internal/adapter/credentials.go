// ABOUTME: Per-adapter credential file loading from TOML
// ABOUTME: Expands ${VAR} environment references so tokens can stay out of files

package adapter

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// TelegramCredentials holds the bot token for the Telegram Bot API.
type TelegramCredentials struct {
	BotToken string `toml:"bot_token"`
}

// DiscordCredentials holds the bot token for the Discord gateway.
type DiscordCredentials struct {
	Token string `toml:"token"`
}

// LoadTelegramCredentials reads a Telegram credential file, expanding
// ${VAR} environment references.
func LoadTelegramCredentials(path string) (*TelegramCredentials, error) {
	var creds TelegramCredentials
	if err := loadTOML(path, &creds); err != nil {
		return nil, err
	}
	if creds.BotToken == "" {
		return nil, fmt.Errorf("bot_token is required in %s", path)
	}
	return &creds, nil
}

// LoadDiscordCredentials reads a Discord credential file, expanding
// ${VAR} environment references.
func LoadDiscordCredentials(path string) (*DiscordCredentials, error) {
	var creds DiscordCredentials
	if err := loadTOML(path, &creds); err != nil {
		return nil, err
	}
	if creds.Token == "" {
		return nil, fmt.Errorf("token is required in %s", path)
	}
	return &creds, nil
}

func loadTOML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	if _, err := toml.Decode(expanded, v); err != nil {
		return fmt.Errorf("parsing credentials file: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}
