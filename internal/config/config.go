package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/katieblackabee/fastchecks/internal/logging"
	"github.com/katieblackabee/fastchecks/internal/storage"
	"github.com/katieblackabee/fastchecks/internal/validate"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Runner   RunnerConfig   `yaml:"runner"`
	Limits   LimitsConfig   `yaml:"limits"`
	Log      LogConfig      `yaml:"log"`
	Checks   []CheckConfig  `yaml:"checks"`
}

type ServerConfig struct {
	Host  string            `yaml:"host"`
	Port  int               `yaml:"port"`
	Users map[string]string `yaml:"users"`
}

type DatabaseConfig struct {
	ConnInfo    string        `yaml:"conninfo"`
	AutoInit    bool          `yaml:"auto_init"`
	InitTimeout time.Duration `yaml:"init_timeout"`
}

type RunnerConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	// Overlap is "allow" or "skip" for a check whose previous run is still
	// in flight when its next tick fires.
	Overlap    string `yaml:"overlap"`
	RunOnStart bool   `yaml:"run_on_start"`
	// MaxBodyBytes is the Content-Length ceiling for reading a body.
	MaxBodyBytes              int64  `yaml:"max_body_bytes"`
	AllowMissingContentLength bool   `yaml:"allow_missing_content_length"`
	UserAgent                 string `yaml:"user_agent"`
}

type LimitsConfig struct {
	URLMaxLen     int           `yaml:"url_max_len"`
	PatternMaxLen int           `yaml:"pattern_max_len"`
	MinInterval   time.Duration `yaml:"min_interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// CheckConfig seeds a check at startup.
type CheckConfig struct {
	URL      string `yaml:"url"`
	Pattern  string `yaml:"pattern"`
	Interval string `yaml:"interval"`
}

const (
	OverlapAllow = "allow"
	OverlapSkip  = "skip"
)

func DefaultConfig() *Config {
	lim := storage.DefaultLimits()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			ConnInfo:    "sqlite://./fastchecks.db",
			AutoInit:    true,
			InitTimeout: 10 * time.Second,
		},
		Runner: RunnerConfig{
			DefaultInterval:           60 * time.Second,
			Timeout:                   10 * time.Second,
			Overlap:                   OverlapAllow,
			RunOnStart:                true,
			MaxBodyBytes:              5 << 20,
			AllowMissingContentLength: true,
			UserAgent:                 "fastchecks/1.0 (Website Monitor)",
		},
		Limits: LimitsConfig{
			URLMaxLen:     lim.URLMaxLen,
			PatternMaxLen: lim.PatternMaxLen,
			MinInterval:   lim.MinInterval,
			MaxInterval:   lim.MaxInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Checks: []CheckConfig{},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

func LoadWithEnv(path string) (*Config, error) {
	config, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("FC_HOST"); v != "" {
		c.Server.Host = v
	}
	if err := envInt("FC_PORT", &c.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv("FC_DATABASE_URL"); v != "" {
		c.Database.ConnInfo = v
	}
	if v := os.Getenv("FC_POSTGRES_CONNINFO"); v != "" {
		c.Database.ConnInfo = v
	}
	if v := os.Getenv("FC_AUTO_INIT"); v != "" {
		c.Database.AutoInit = v == "true" || v == "1"
	}

	seconds := []struct {
		name string
		dst  *time.Duration
	}{
		{"FC_INIT_TIMEOUT_SECONDS", &c.Database.InitTimeout},
		{"FC_DEFAULT_REQ_TIMEOUT_SECONDS", &c.Runner.Timeout},
		{"FC_DEFAULT_INTERVAL_SECONDS", &c.Runner.DefaultInterval},
		{"FC_MIN_INTERVAL_SECONDS", &c.Limits.MinInterval},
		{"FC_MAX_INTERVAL_SECONDS", &c.Limits.MaxInterval},
	}
	for _, s := range seconds {
		if err := envSeconds(s.name, s.dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("FC_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FC_MAX_BODY_BYTES: %w", err)
		}
		c.Runner.MaxBodyBytes = n
	}
	if v := os.Getenv("FC_OVERLAP_POLICY"); v != "" {
		c.Runner.Overlap = strings.ToLower(v)
	}
	if v := os.Getenv("FC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FC_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("FC_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

// envSeconds reads a positive number of seconds, fractions allowed.
func envSeconds(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if f <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, v)
	}
	*dst = time.Duration(f * float64(time.Second))
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := validate.ConnString(c.Database.ConnInfo, validate.StoreSchemes); err != nil {
		return fmt.Errorf("database.conninfo: %w", err)
	}
	if c.Database.InitTimeout <= 0 {
		return fmt.Errorf("database.init_timeout must be positive")
	}

	if c.Runner.Timeout <= 0 {
		return fmt.Errorf("runner.timeout must be positive")
	}
	if c.Runner.MaxBodyBytes <= 0 {
		return fmt.Errorf("runner.max_body_bytes must be positive")
	}
	if c.Runner.Overlap != OverlapAllow && c.Runner.Overlap != OverlapSkip {
		return fmt.Errorf("runner.overlap must be %q or %q, got %q", OverlapAllow, OverlapSkip, c.Runner.Overlap)
	}

	if c.Limits.URLMaxLen < 1 || c.Limits.PatternMaxLen < 1 {
		return fmt.Errorf("limits must be positive")
	}
	if c.Limits.MinInterval < time.Second {
		return fmt.Errorf("limits.min_interval must be at least 1s")
	}
	if c.Limits.MinInterval%time.Second != 0 || c.Limits.MaxInterval%time.Second != 0 {
		return fmt.Errorf("interval limits must be whole seconds")
	}
	if c.Limits.MaxInterval < c.Limits.MinInterval {
		return fmt.Errorf("limits.max_interval must not be below limits.min_interval")
	}
	if _, err := validate.Interval(c.Runner.DefaultInterval, c.Limits.MinInterval, c.Limits.MaxInterval); err != nil {
		return fmt.Errorf("runner.default_interval: %w", err)
	}

	for i, check := range c.Checks {
		if check.URL == "" {
			return fmt.Errorf("check[%d]: url is required", i)
		}
		if check.Interval != "" {
			if _, err := time.ParseDuration(check.Interval); err != nil {
				return fmt.Errorf("check[%d]: invalid interval %q: %w", i, check.Interval, err)
			}
		}
	}

	return nil
}

// StorageLimits converts the limits section for the storage constructors.
func (c *Config) StorageLimits() storage.Limits {
	return storage.Limits{
		URLMaxLen:     c.Limits.URLMaxLen,
		PatternMaxLen: c.Limits.PatternMaxLen,
		MinInterval:   c.Limits.MinInterval,
		MaxInterval:   c.Limits.MaxInterval,
	}
}

func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// GetInterval returns zero when no interval is configured, which defers to
// the runner default.
func (c *CheckConfig) GetInterval() time.Duration {
	if c.Interval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0
	}
	return d
}

// ScheduledCheck validates the seed entry.
func (c *CheckConfig) ScheduledCheck(lim storage.Limits) (storage.ScheduledCheck, error) {
	check, err := storage.NewCheck(c.URL, c.Pattern, lim)
	if err != nil {
		return storage.ScheduledCheck{}, err
	}
	return storage.NewScheduledCheck(check, c.GetInterval(), lim)
}
