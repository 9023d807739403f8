package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pthm/tenantsql"
)

const (
	maxWalkDepth = 25
)

// Config represents the tenantsql configuration from tenantsql.yaml.
type Config struct {
	Tenant TenantConfig `mapstructure:"tenant"`

	// SharedTables are exempt from filtering, matched on the name as written
	// in queries.
	SharedTables []string `mapstructure:"shared_tables"`

	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`

	// Per-command configuration
	Serve  ServeConfig  `mapstructure:"serve"`
	Doctor DoctorConfig `mapstructure:"doctor"`
}

// TenantConfig holds the filter predicate settings.
type TenantConfig struct {
	Column string `mapstructure:"column"`
	ID     string `mapstructure:"id"`
}

// CacheConfig holds rewrite cache settings.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServeConfig holds gRPC server settings.
type ServeConfig struct {
	Address string `mapstructure:"address"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Queries string `mapstructure:"queries"`
	Verbose bool   `mapstructure:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("TENANTSQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tenant.column", tenantsql.DefaultTenantColumn)
	v.SetDefault("tenant.id", "")
	v.SetDefault("shared_tables", []string{})

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", "0s")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")

	v.SetDefault("serve.address", "127.0.0.1:7878")

	v.SetDefault("doctor.queries", "")
	v.SetDefault("doctor.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for tenantsql.yaml or tenantsql.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"tenantsql.yaml", "tenantsql.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// TenantID parses the configured tenant id. It returns tenantsql.ErrNoTenant
// when none is configured.
func (c *Config) TenantID() (tenantsql.Tenant, error) {
	return tenantsql.ParseTenant(c.Tenant.ID)
}

// RewriterOptions translates the configuration into Rewriter options.
func (c *Config) RewriterOptions(logger *zap.Logger) []tenantsql.Option {
	opts := []tenantsql.Option{
		tenantsql.WithTenantColumn(c.Tenant.Column),
		tenantsql.WithLogger(logger),
	}
	if len(c.SharedTables) > 0 {
		opts = append(opts, tenantsql.WithSharedTables(c.SharedTables...))
	}
	if c.Cache.Enabled {
		opts = append(opts, tenantsql.WithCache(tenantsql.NewCache(tenantsql.WithTTL(c.Cache.TTL))))
	}
	return opts
}
