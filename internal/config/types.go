package config

// Config is the full process configuration. Durations are Go duration
// strings ("10s", "1m30s"); zero/omitted fields fall back to the
// defaults noted per section.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Platform PlatformConfig `json:"platform"`
	Schedule ScheduleConfig `json:"schedule,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Monitor  MonitorConfig  `json:"monitor,omitempty"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via
	// HOOKBOT_TELEGRAM_TOKEN instead.
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// PlatformConfig points at the evaluation dashboard. Credentials may be
// supplied via HOOKBOT_PLATFORM_EMAIL / HOOKBOT_PLATFORM_PASSWORD.
type PlatformConfig struct {
	BaseURL  string `json:"base_url"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`

	// DefaultTarget is substituted when a requester answers "default"
	// to the webhook URL prompt.
	DefaultTarget string `json:"default_target,omitempty"`

	// Route overrides; zero values use the production layout.
	LoginPath  string `json:"login_path,omitempty"`
	SubmitPath string `json:"submit_path,omitempty"`
	FeedPath   string `json:"feed_path,omitempty"`

	Timeout string `json:"timeout,omitempty"` // per-request, default "30s"
}

type ScheduleConfig struct {
	// Timezone for interpreting schedule expressions.
	// Default "Asia/Kolkata" (the platform leaderboard clock).
	Timezone string `json:"timezone,omitempty"`
}

type DispatchConfig struct {
	Interval string `json:"interval,omitempty"` // scan cadence, default "30s"
	Workers  int    `json:"workers,omitempty"`  // concurrent submissions, default 4
}

type MonitorConfig struct {
	MaxConfirmAttempts int    `json:"max_confirm_attempts,omitempty"` // default 2
	ConfirmDelay       string `json:"confirm_delay,omitempty"`        // default "10s"
	MaxPollAttempts    int    `json:"max_poll_attempts,omitempty"`    // default 6000
	PollDelay          string `json:"poll_delay,omitempty"`           // default "10s"
	ProgressEvery      int    `json:"progress_every,omitempty"`       // default 10 cycles
}

type NotifierConfig struct {
	QueueSize     int    `json:"queue_size,omitempty"`      // default 256
	RatePerSec    int    `json:"rate_per_sec,omitempty"`    // default 3
	RetryMax      int    `json:"retry_max,omitempty"`       // default 2
	RetryBase     string `json:"retry_base,omitempty"`      // default "500ms"
	RetryMaxDelay string `json:"retry_max_delay,omitempty"` // default "10s"
}

// StorageConfig selects the task store driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./hookbot_tasks.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// OpsConfig controls the optional read-only status API.
//
// Security:
//   - Prefer binding to localhost (default "127.0.0.1:8090").
//   - A non-loopback bind requires a token.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // bearer token (do not log)
}
