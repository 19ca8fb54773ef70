package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pypigo/pypigo/database"
	pypigohttp "github.com/pypigo/pypigo/http"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for pypigo.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Index    IndexConfig           `mapstructure:"index"`
	Fallback FallbackConfig        `mapstructure:"fallback"`
	Database database.Config       `mapstructure:"database"`
	Storage  StorageConfig         `mapstructure:"storage"`
	Access   AccessConfig          `mapstructure:"access"`
	CORS     pypigohttp.CORSConfig `mapstructure:"cors"`
	Log      LogConfig             `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`
}

// IndexConfig holds index-level behavior.
type IndexConfig struct {
	// AllowOverwrite permits re-uploading an existing filename.
	AllowOverwrite bool `mapstructure:"allow_overwrite"`
	// ReloadInterval re-runs a graceful cache rebuild every N seconds.
	// Zero disables periodic rebuilds.
	ReloadInterval int `mapstructure:"reload_interval" validate:"min=0"`
	// CleanupTimeout bounds rollback deletions, in seconds.
	CleanupTimeout int `mapstructure:"cleanup_timeout" validate:"min=1"`
	// PackageMaxAge is the Cache-Control max-age on download responses, in
	// seconds. Zero sends no caching directive.
	PackageMaxAge int `mapstructure:"package_max_age" validate:"min=0"`
}

// FallbackConfig holds upstream fallback configuration.
type FallbackConfig struct {
	Policy             string `mapstructure:"policy" validate:"required,oneof=none redirect cache mirror"`
	BaseURL            string `mapstructure:"base_url" validate:"required_unless=Policy none"`
	AlwaysShowUpstream bool   `mapstructure:"always_show_upstream"`
	// FetchTimeout bounds upstream metadata and artifact requests, in
	// seconds.
	FetchTimeout int `mapstructure:"fetch_timeout" validate:"min=1"`
	// CacheTTL is how long upstream release listings are memoized, in
	// seconds. Negative disables memoization.
	CacheTTL int `mapstructure:"cache_ttl"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	Path string `mapstructure:"path" validate:"required"`
	// URLPrefix is prepended to generated download references, e.g. the
	// server's external base URL. Empty yields relative references.
	URLPrefix string `mapstructure:"url_prefix"`
}

// AccessConfig holds access control configuration.
type AccessConfig struct {
	// File is the YAML access file with users, groups, and package ACLs.
	// Empty means no registered users: only the default terms apply.
	File string `mapstructure:"file"`
	// DefaultRead grants read on packages without an ACL.
	DefaultRead []string `mapstructure:"default_read"`
	// DefaultWrite grants write on packages without an ACL.
	DefaultWrite []string `mapstructure:"default_write"`
	// CacheUpdate gates upstream fetch-and-store.
	CacheUpdate []string `mapstructure:"cache_update"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=dev json"`
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"port":            "server.port",
	"db-type":         "database.type",
	"db-dsn":          "database.dsn",
	"storage-path":    "storage.path",
	"fallback-policy": "fallback.policy",
	"fallback-url":    "fallback.base_url",
	"access-file":     "access.file",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// Use custom mapping if it exists, otherwise use flag name as-is
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 6543)

	v.SetDefault("index.allow_overwrite", false)
	v.SetDefault("index.reload_interval", 0) // disabled
	v.SetDefault("index.cleanup_timeout", 30)
	v.SetDefault("index.package_max_age", 0)

	v.SetDefault("fallback.policy", "redirect")
	v.SetDefault("fallback.base_url", "https://pypi.org")
	v.SetDefault("fallback.always_show_upstream", false)
	v.SetDefault("fallback.fetch_timeout", 30)
	v.SetDefault("fallback.cache_ttl", 60)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "pypigo.db")
	v.SetDefault("database.tables.packages", "pypigo_packages")

	v.SetDefault("storage.path", "./packages")

	v.SetDefault("access.default_read", []string{"everyone"})
	v.SetDefault("access.default_write", []string{})
	v.SetDefault("access.cache_update", []string{"authenticated"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "dev")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("PYPIGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
