package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the archiver and the bot.
// Values are read by viper from a config file or environment variables.
type Config struct {
	// Telegram bot.
	TelegramBotToken string  `mapstructure:"TELEGRAM_BOT_TOKEN"`
	AllowedUserIDs   []int64 `mapstructure:"ALLOWED_USER_IDS"`

	// Shared storage.
	BadgerDBPath string `mapstructure:"BADGERDB_PATH"`

	// Reddit API credentials.
	RedditClientID     string `mapstructure:"REDDIT_CLIENT_ID"`
	RedditClientSecret string `mapstructure:"REDDIT_CLIENT_SECRET"`
	RedditUsername     string `mapstructure:"REDDIT_USERNAME"`
	RedditPassword     string `mapstructure:"REDDIT_PASSWORD"`

	// UserAgent identifies the archiver to Reddit, in the
	// "<platform>:<name>:v<version> (by /u/<username>)" form Reddit asks for.
	UserAgent string `mapstructure:"USER_AGENT"`

	// SyncHourUTC is the hour of day (UTC) of the daily sync pass.
	SyncHourUTC int `mapstructure:"SYNC_HOUR_UTC"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("BADGERDB_PATH", "./badger_data")
	viper.SetDefault("SYNC_HOUR_UTC", 3)
	viper.SetDefault("LOG_LEVEL", "info")

	err = viper.ReadInConfig()
	if err != nil {
		// A missing config file is fine when everything comes from the
		// environment; only other read errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if config.SyncHourUTC < 0 || config.SyncHourUTC > 23 {
		return Config{}, fmt.Errorf("SYNC_HOUR_UTC must be within [0, 23], got %d", config.SyncHourUTC)
	}

	return config, nil
}

// ValidateBot checks the fields the bot frontend needs.
func (c Config) ValidateBot() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	if len(c.AllowedUserIDs) == 0 {
		return fmt.Errorf("ALLOWED_USER_IDS is not set")
	}
	return nil
}

// ValidateSync checks the fields the sync engine needs.
func (c Config) ValidateSync() error {
	required := []struct {
		name  string
		value string
	}{
		{"REDDIT_CLIENT_ID", c.RedditClientID},
		{"REDDIT_CLIENT_SECRET", c.RedditClientSecret},
		{"REDDIT_USERNAME", c.RedditUsername},
		{"REDDIT_PASSWORD", c.RedditPassword},
		{"USER_AGENT", c.UserAgent},
	}
	var missing []string
	for _, field := range required {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing Reddit API configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
