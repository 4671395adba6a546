package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"market-intel/internal/logging"
	"market-intel/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs reconciliation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SourceConfig captures the comparable-sales source endpoint.
type SourceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	SearchPath string        `mapstructure:"search_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"user_agent"`
	APIKey     string        `mapstructure:"api_key"`
}

// ReconcileConfig holds the engine parameters passed to every batch.
type ReconcileConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Concurrency   int           `mapstructure:"concurrency"`
	SampleBound   int           `mapstructure:"sample_bound"`
	ItemTimeout   time.Duration `mapstructure:"item_timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	SuggestFactor float64       `mapstructure:"suggest_factor"`
	Retention     time.Duration `mapstructure:"retention"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketintel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d6b7469))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("source.base_url", "http://localhost:8090")
	v.SetDefault("source.search_path", "/api/sold")
	v.SetDefault("source.timeout", "10s")
	v.SetDefault("source.user_agent", version.UserAgent())
	v.SetDefault("source.api_key", "")

	v.SetDefault("reconcile.ttl", "24h")
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("reconcile.sample_bound", 20)
	v.SetDefault("reconcile.item_timeout", "30s")
	v.SetDefault("reconcile.batch_size", 200)
	v.SetDefault("reconcile.suggest_factor", 1.0)
	v.SetDefault("reconcile.retention", "720h")

	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "5m")

	v.SetDefault("export.max_data_points", 120)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron: %w", err)
		}
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Reconcile.TTL < 0 {
		return fmt.Errorf("reconcile.ttl cannot be negative")
	}
	if c.Reconcile.Concurrency <= 0 {
		return fmt.Errorf("reconcile.concurrency must be greater than zero")
	}
	if c.Reconcile.SampleBound <= 0 {
		return fmt.Errorf("reconcile.sample_bound must be greater than zero")
	}
	if c.Reconcile.BatchSize <= 0 {
		return fmt.Errorf("reconcile.batch_size must be greater than zero")
	}
	if c.Reconcile.SuggestFactor < 0 {
		return fmt.Errorf("reconcile.suggest_factor cannot be negative")
	}
	if c.Reconcile.ItemTimeout < 0 {
		return fmt.Errorf("reconcile.item_timeout cannot be negative")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
