package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Download DownloadConfig `mapstructure:"download"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
	Database DatabaseConfig `mapstructure:"database"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Log      LogConfig      `mapstructure:"log"`
	API      APIConfig      `mapstructure:"api"`
}

// DownloadConfig controls the scheduler and transfer behaviour.
type DownloadConfig struct {
	// TaskConcurrency is the outer gate: how many item pipelines may be
	// in flight at once.
	TaskConcurrency int `mapstructure:"task_concurrency"`
	// ResolverConcurrency is the inner gate: how many link resolutions may
	// run at once.
	ResolverConcurrency int           `mapstructure:"resolver_concurrency"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	TransferTimeout     time.Duration `mapstructure:"transfer_timeout"`
	ResolverTimeout     time.Duration `mapstructure:"resolver_timeout"`
	// MaxFileSizeMB skips archives larger than this; 0 disables the limit.
	MaxFileSizeMB     int      `mapstructure:"max_file_size_mb"`
	DownloadDir       string   `mapstructure:"download_dir"`
	DataDir           string   `mapstructure:"data_dir"`
	ExcludeCategories []string `mapstructure:"exclude_categories"`
}

// PacingConfig bounds the randomized delay between resolver calls.
type PacingConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DatabaseConfig configures the ledger store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
// Parameters: none.
// Returns:
//   - string: driver-specific DSN.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

// CatalogConfig locates the catalog data.
type CatalogConfig struct {
	URL  string `mapstructure:"url"`
	File string `mapstructure:"file"`
}

// ExtractConfig controls archive member extraction.
type ExtractConfig struct {
	Formats []string `mapstructure:"formats"`
	KeepZip bool     `mapstructure:"keep_zip"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// APIConfig configures the optional status HTTP server.
type APIConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// CatalogPath returns the absolute location of the local catalog file.
func (c *Config) CatalogPath() string {
	if filepath.IsAbs(c.Catalog.File) {
		return c.Catalog.File
	}
	return filepath.Join(c.Download.DataDir, c.Catalog.File)
}

// Load reads configuration from the given file (or ./config.yaml when empty),
// applies defaults and environment overrides, and validates the result.
// Parameters:
//   - configPath: path to a config file or empty for the default lookup.
// Returns:
//   - *Config: loaded configuration.
//   - error: non-nil if reading, parsing, or validation fails.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "BOOKHAUL_DB_PASSWORD")
	v.BindEnv("database.host", "BOOKHAUL_DB_HOST")
	v.BindEnv("catalog.url", "BOOKHAUL_CATALOG_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download.task_concurrency", 10)
	v.SetDefault("download.resolver_concurrency", 3)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.retry_backoff", "5s")
	v.SetDefault("download.transfer_timeout", "5m")
	v.SetDefault("download.resolver_timeout", "30s")
	v.SetDefault("download.max_file_size_mb", 500)
	v.SetDefault("download.download_dir", "./downloads")
	v.SetDefault("download.data_dir", "./data")
	v.SetDefault("download.exclude_categories", []string{})
	v.SetDefault("pacing.min_delay", "5s")
	v.SetDefault("pacing.max_delay", "15s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/state.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("catalog.url",
		"https://raw.githubusercontent.com/jbiaojerry/ebook-treasure-chest/main/docs/all-books.json")
	v.SetDefault("catalog.file", "all-books.json")
	v.SetDefault("extract.formats", []string{"epub"})
	v.SetDefault("extract.keep_zip", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.mode", "release")
}

// Validate checks the invariants the scheduler relies on.
// Parameters: none.
// Returns:
//   - error: non-nil describing the first violated constraint.
func (c *Config) Validate() error {
	if c.Download.TaskConcurrency < 1 {
		return fmt.Errorf("download.task_concurrency must be >= 1, got %d", c.Download.TaskConcurrency)
	}
	if c.Download.ResolverConcurrency < 1 {
		return fmt.Errorf("download.resolver_concurrency must be >= 1, got %d", c.Download.ResolverConcurrency)
	}
	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must be >= 0, got %d", c.Download.MaxRetries)
	}
	if c.Pacing.MinDelay < 0 || c.Pacing.MaxDelay < 0 {
		return fmt.Errorf("pacing delays must be >= 0")
	}
	if c.Pacing.MinDelay > c.Pacing.MaxDelay {
		return fmt.Errorf("pacing.min_delay (%s) must not exceed pacing.max_delay (%s)",
			c.Pacing.MinDelay, c.Pacing.MaxDelay)
	}
	return nil
}
