// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Scrape     ScrapeConfig     `mapstructure:"scrape" yaml:"scrape"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig points at the snapshot and run-state store. When URL is
// empty the engine falls back to the file-backed store under DataDir.
type DatabaseConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// BrowserConfig controls the Chrome process owned by the session manager.
type BrowserConfig struct {
	Headless   bool     `mapstructure:"headless" yaml:"headless"`
	ProfileDir string   `mapstructure:"profile_dir" yaml:"profile_dir"`
	Args       []string `mapstructure:"args" yaml:"args"`

	// Authenticated-app endpoints and credentials.
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	LoginPath    string        `mapstructure:"login_path" yaml:"login_path"`
	NetworkPath  string        `mapstructure:"network_path" yaml:"network_path"`
	Email        string        `mapstructure:"email" yaml:"email"`
	Password     string        `mapstructure:"password" yaml:"password"`
	LoginTimeout time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`

	// ManualLoginWait bounds the interactive fallback poll.
	ManualLoginWait   time.Duration `mapstructure:"manual_login_wait" yaml:"manual_login_wait"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ScrapeConfig controls the per-account extraction loop.
type ScrapeConfig struct {
	AccountsFile   string        `mapstructure:"accounts_file" yaml:"accounts_file"`
	MaxRunRetries  int           `mapstructure:"max_run_retries" yaml:"max_run_retries"`
	RunRetryDelay  time.Duration `mapstructure:"run_retry_delay" yaml:"run_retry_delay"`
	SwitchRetries  int           `mapstructure:"switch_retries" yaml:"switch_retries"`
	SwitchDelay    time.Duration `mapstructure:"switch_delay" yaml:"switch_delay"`
	TableRetries   int           `mapstructure:"table_retries" yaml:"table_retries"`
	TableBackoff   time.Duration `mapstructure:"table_backoff" yaml:"table_backoff"`
	SelectorWait   time.Duration `mapstructure:"selector_wait" yaml:"selector_wait"`
}

// ValidationConfig holds the thresholds used by the snapshot validator.
type ValidationConfig struct {
	DropTolerance   int            `mapstructure:"drop_tolerance" yaml:"drop_tolerance"`
	DefaultMinimum  int            `mapstructure:"default_minimum" yaml:"default_minimum"`
	AccountMinimums map[string]int `mapstructure:"account_minimums" yaml:"account_minimums"`
}

// NotifyConfig configures the terminal-outcome notifier.
type NotifyConfig struct {
	SlackWebhookURL string        `mapstructure:"slack_webhook_url" yaml:"slack_webhook_url"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ScheduleConfig configures the daemon triggers.
type ScheduleConfig struct {
	DailyHour        int `mapstructure:"daily_hour" yaml:"daily_hour"`
	CatchupStartHour int `mapstructure:"catchup_start_hour" yaml:"catchup_start_hour"`
	CatchupEndHour   int `mapstructure:"catchup_end_hour" yaml:"catchup_end_hour"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "refpulse")
	v.SetDefault("logger.log_file", "refpulse.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "red")
	v.SetDefault("logger.colors.panic", "red")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.data_dir", "data")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "~/.refpulse/chrome-profile")
	v.SetDefault("browser.base_url", "https://app.kit.com")
	v.SetDefault("browser.login_path", "/login")
	v.SetDefault("browser.network_path", "/creator-network")
	v.SetDefault("browser.login_timeout", "30s")
	v.SetDefault("browser.manual_login_wait", "5m")
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "2s")

	// -- Scrape --
	v.SetDefault("scrape.accounts_file", "enabled_accounts.json")
	v.SetDefault("scrape.max_run_retries", 3)
	v.SetDefault("scrape.run_retry_delay", "5s")
	v.SetDefault("scrape.switch_retries", 3)
	v.SetDefault("scrape.switch_delay", "3s")
	v.SetDefault("scrape.table_retries", 3)
	v.SetDefault("scrape.table_backoff", "10s")
	v.SetDefault("scrape.selector_wait", "10s")

	// -- Validation --
	v.SetDefault("validation.drop_tolerance", 3)
	v.SetDefault("validation.default_minimum", 5)

	// -- Notify --
	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("notify.timeout", "10s")

	// -- Schedule --
	v.SetDefault("schedule.daily_hour", 6)
	v.SetDefault("schedule.catchup_start_hour", 7)
	v.SetDefault("schedule.catchup_end_hour", 23)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("browser.email", "REFPULSE_APP_EMAIL")
	v.BindEnv("browser.password", "REFPULSE_APP_PASSWORD")
	v.BindEnv("notify.slack_webhook_url", "REFPULSE_SLACK_WEBHOOK_URL")
	v.BindEnv("database.url", "REFPULSE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.BaseURL == "" {
		return fmt.Errorf("browser.base_url is a required configuration field")
	}
	if c.Scrape.MaxRunRetries <= 0 {
		return fmt.Errorf("scrape.max_run_retries must be a positive integer")
	}
	if c.Validation.DropTolerance < 0 {
		return fmt.Errorf("validation.drop_tolerance must not be negative")
	}
	if c.Validation.DefaultMinimum < 0 {
		return fmt.Errorf("validation.default_minimum must not be negative")
	}
	if c.Schedule.DailyHour < 0 || c.Schedule.DailyHour > 23 {
		return fmt.Errorf("schedule.daily_hour must be between 0 and 23")
	}
	if c.Schedule.CatchupStartHour > c.Schedule.CatchupEndHour {
		return fmt.Errorf("schedule.catchup_start_hour must not be after schedule.catchup_end_hour")
	}
	return nil
}

// ResolvedProfileDir expands a leading ~ in the configured browser profile directory.
func (c *Config) ResolvedProfileDir() (string, error) {
	dir, err := homedir.Expand(c.Browser.ProfileDir)
	if err != nil {
		return "", fmt.Errorf("failed to expand browser.profile_dir: %w", err)
	}
	return dir, nil
}
