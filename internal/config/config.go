// Package config resolves the settings of a gitlab-to-sqlite invocation
// from flags, the environment, an optional config file and the auth file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "GITLAB_TO_SQLITE"

	// FileName is the config file name looked up without an extension.
	FileName = "gitlab-to-sqlite"

	// DefaultHost is used when neither config nor auth file name a host.
	DefaultHost = "gitlab.com"

	// DefaultAuthFile is the auth file written by the auth command.
	DefaultAuthFile = "auth.json"
)

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the resolved settings.
type Config struct {
	Host        string        `mapstructure:"host"`
	Token       string        `mapstructure:"token"`
	Auth        string        `mapstructure:"auth"`
	DB          string        `mapstructure:"db" validate:"required"`
	PageSize    int           `mapstructure:"page_size" validate:"min=1,max=100"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`

	Log       LogConfig       `mapstructure:"log"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// Sources records where the settings came from (not serialized)
	Sources Sources `mapstructure:"-"`
}

// LogConfig controls where log output goes.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
	Quiet      bool   `mapstructure:"quiet"`
}

// DaemonConfig lists what the daemon keeps in sync and how often.
type DaemonConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`
	Targets  []Target      `mapstructure:"targets" validate:"dive"`
}

// Target is one project the daemon syncs, with the environments whose
// deployments it follows.
type Target struct {
	Project      string   `mapstructure:"project" validate:"required,contains=/"`
	Environments []string `mapstructure:"environments" validate:"dive,required"`
}

// DashboardConfig configures the live dashboard.
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Sources tracks which files were loaded (for diagnostics).
type Sources struct {
	ConfigFile string // config file if one was read
	AuthFile   string // auth file if it supplied the token or host
	EnvFile    string // dotenv file if one was read
}

// Options holds the inputs for Load.
type Options struct {
	// File is an explicit config file (--config); it must exist.
	File string
	// EnvFile is a dotenv file loaded into the process environment if
	// present. Defaults to ".env".
	EnvFile string
	// Flags are bound over every other source when changed.
	Flags *pflag.FlagSet
	// SearchPaths replaces the default lookup directories for the config
	// file: the working directory and the user config directory.
	SearchPaths []string
}

// flagKeys maps config keys to the flag names bound over them.
var flagKeys = map[string]string{
	"host":      "host",
	"auth":      "auth",
	"db":        "db",
	"page_size": "page-size",
	"log.file":  "log-file",
	"log.quiet": "quiet",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "")
	v.SetDefault("token", "")
	v.SetDefault("auth", DefaultAuthFile)
	v.SetDefault("db", "gitlab.db")
	v.SetDefault("page_size", 100)
	v.SetDefault("max_attempts", 5)
	v.SetDefault("timeout", 30*time.Second)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.quiet", false)

	v.SetDefault("daemon.interval", 15*time.Minute)
	v.SetDefault("daemon.debounce", 2*time.Second)
	v.SetDefault("daemon.targets", []Target{})

	v.SetDefault("dashboard.host", "")
	v.SetDefault("dashboard.port", 8080)
}

// Load resolves the configuration. Precedence, highest first:
//  1. changed flags
//  2. GITLAB_TO_SQLITE_* environment variables (including a .env file)
//  3. the config file
//  4. the auth file, for token and host only
//  5. GITLAB_TOKEN and GITLAB_HOST
//  6. defaults
func Load(opts Options) (*Config, error) {
	var sources Sources

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err == nil {
		sources.EnvFile = envFile
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(FileName)
		for _, dir := range searchPaths(opts.SearchPaths) {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	sources.ConfigFile = v.ConfigFileUsed()

	if opts.Flags != nil {
		for key, name := range flagKeys {
			if flag := opts.Flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := resolveCredentials(&cfg, &sources); err != nil {
		return nil, err
	}
	cfg.Sources = sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveCredentials fills token and host from the auth file, then from
// GITLAB_TOKEN and GITLAB_HOST.
func resolveCredentials(cfg *Config, sources *Sources) error {
	if cfg.Token == "" || cfg.Host == "" {
		auth, err := LoadAuth(cfg.Auth)
		switch {
		case errors.Is(err, ErrAuthFileNotFound):
		case err != nil:
			return err
		default:
			if cfg.Token == "" && auth.Token != "" {
				cfg.Token = auth.Token
				sources.AuthFile = cfg.Auth
			}
			if cfg.Host == "" && auth.Host != "" {
				cfg.Host = auth.Host
				sources.AuthFile = cfg.Auth
			}
		}
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("GITLAB_TOKEN")
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("GITLAB_HOST")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func searchPaths(override []string) []string {
	if len(override) > 0 {
		return override
	}
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, FileName))
	}
	return paths
}
