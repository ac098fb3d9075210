package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Env variable names for secret overrides. Values set in the
// environment always win over the config file.
const (
	EnvTelegramToken    = "HOOKBOT_TELEGRAM_TOKEN"
	EnvPlatformEmail    = "HOOKBOT_PLATFORM_EMAIL"
	EnvPlatformPassword = "HOOKBOT_PLATFORM_PASSWORD"
)

// ApplyEnv overlays secret values from the environment. Called after
// every parse so a hot reload cannot downgrade a secret to the file's
// (usually empty) value.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPlatformEmail)); v != "" {
		cfg.Platform.Email = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPlatformPassword)); v != "" {
		cfg.Platform.Password = v
	}
}

// Validate rejects configs the services could not start with. It checks
// shape, not reachability: URLs parse, durations parse, budgets are
// positive, the timezone loads.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	base := strings.TrimSpace(cfg.Platform.BaseURL)
	if base == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("platform.base_url %q is not an absolute URL", base)
	}
	if t := strings.TrimSpace(cfg.Platform.DefaultTarget); t != "" &&
		!strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://") {
		return fmt.Errorf("platform.default_target %q must start with http:// or https://", t)
	}
	if _, err := ParseDurationField("platform.timeout", cfg.Platform.Timeout); err != nil {
		return err
	}

	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}

	if _, err := ParseDurationField("dispatch.interval", cfg.Dispatch.Interval); err != nil {
		return err
	}
	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must be >= 0")
	}

	if cfg.Monitor.MaxConfirmAttempts < 0 || cfg.Monitor.MaxPollAttempts < 0 || cfg.Monitor.ProgressEvery < 0 {
		return fmt.Errorf("monitor attempt budgets must be >= 0")
	}
	if _, err := ParseDurationField("monitor.confirm_delay", cfg.Monitor.ConfirmDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.poll_delay", cfg.Monitor.PollDelay); err != nil {
		return err
	}

	for path, raw := range map[string]string{
		"notifier.retry_base":      cfg.Notifier.RetryBase,
		"notifier.retry_max_delay": cfg.Notifier.RetryMaxDelay,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); driver {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver %q is not supported", driver)
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	return nil
}

// Timezone returns the configured schedule location, defaulting to
// Asia/Kolkata. Validate has already checked that the name loads.
func (c *Config) Timezone() *time.Location {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
