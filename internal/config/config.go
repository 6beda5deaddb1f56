// Package config reads the bot configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingToken    = errors.New("DISCORD_TOKEN is required")
	ErrMissingPassword = errors.New("DASHBOARD_PASSWORD is required when the dashboard is enabled")
)

type Config struct {
	DiscordToken  string
	DatabasePath  string
	CommandPrefix string
	// Timeout of guilds that did not choose one
	DefaultAFKTimeout time.Duration

	DashboardAddr       string
	DashboardPassword   string
	DashboardSessionTTL time.Duration

	TelegramToken   string
	TelegramChatIDs []string
	TelegramAPIURL  string
	TelegramRate    int

	DailySummaryCron string
	HousekeepingCron string
	SessionRetention time.Duration

	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		DatabasePath:        "afkwatch.db",
		CommandPrefix:       "!afk",
		DefaultAFKTimeout:   10 * time.Minute,
		DashboardAddr:       ":8080",
		DashboardSessionTTL: 12 * time.Hour,
		TelegramAPIURL:      "https://api.telegram.org",
		TelegramRate:        20,
		DailySummaryCron:    "0 9 * * *",
		HousekeepingCron:    "@hourly",
		SessionRetention:    90 * 24 * time.Hour,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load reads the .env file if present and then the environment.
// Variables already in the environment win over the file
func Load(envFile string) (Config, error) {

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Str("file", envFile).Msg("No .env file found, using system environment")
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from a lookup function
func FromEnv(lookup func(string) (string, bool)) (Config, error) {

	cfg := Default()
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	duration := func(name string, dst *time.Duration) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	str("DISCORD_TOKEN", &cfg.DiscordToken)
	str("DATABASE_PATH", &cfg.DatabasePath)
	str("COMMAND_PREFIX", &cfg.CommandPrefix)
	duration("DEFAULT_AFK_TIMEOUT", &cfg.DefaultAFKTimeout)
	str("DASHBOARD_ADDR", &cfg.DashboardAddr)
	str("DASHBOARD_PASSWORD", &cfg.DashboardPassword)
	duration("DASHBOARD_SESSION_TTL", &cfg.DashboardSessionTTL)
	str("TELEGRAM_TOKEN", &cfg.TelegramToken)
	str("TELEGRAM_API_URL", &cfg.TelegramAPIURL)
	str("DAILY_SUMMARY_CRON", &cfg.DailySummaryCron)
	str("HOUSEKEEPING_CRON", &cfg.HousekeepingCron)
	duration("SESSION_RETENTION", &cfg.SessionRetention)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	if v, ok := lookup("TELEGRAM_CHAT_IDS"); ok {
		cfg.TelegramChatIDs = splitList(v)
	}
	if v, ok := lookup("TELEGRAM_RATE"); ok && strings.TrimSpace(v) != "" {
		rate, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_RATE: %w", err))
		} else {
			cfg.TelegramRate = rate
		}
	}

	return cfg, errors.Join(errs...)
}

// Validate reports every problem of the configuration at once
func (cfg Config) Validate() error {

	var errs []error
	if cfg.DiscordToken == "" {
		errs = append(errs, ErrMissingToken)
	}
	if cfg.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH must not be empty"))
	}
	if strings.TrimSpace(cfg.CommandPrefix) == "" {
		errs = append(errs, errors.New("COMMAND_PREFIX must not be empty"))
	}
	if cfg.DefaultAFKTimeout < time.Minute {
		errs = append(errs, fmt.Errorf("DEFAULT_AFK_TIMEOUT must be at least 1m, got %s", cfg.DefaultAFKTimeout))
	}
	if cfg.DashboardEnabled() {
		if cfg.DashboardPassword == "" {
			errs = append(errs, ErrMissingPassword)
		}
		if cfg.DashboardSessionTTL <= 0 {
			errs = append(errs, errors.New("DASHBOARD_SESSION_TTL must be positive"))
		}
	}
	if cfg.TelegramEnabled() && cfg.TelegramRate <= 0 {
		errs = append(errs, errors.New("TELEGRAM_RATE must be positive"))
	}
	for name, spec := range map[string]string{"DAILY_SUMMARY_CRON": cfg.DailySummaryCron, "HOUSEKEEPING_CRON": cfg.HousekeepingCron} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if cfg.SessionRetention < 0 {
		errs = append(errs, errors.New("SESSION_RETENTION must not be negative"))
	}
	return errors.Join(errs...)
}

func (cfg Config) DashboardEnabled() bool {
	return cfg.DashboardAddr != ""
}

func (cfg Config) TelegramEnabled() bool {
	return cfg.TelegramToken != "" && len(cfg.TelegramChatIDs) > 0
}

func splitList(v string) []string {
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
