package config

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/database"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/spf13/viper"
)

const (
	envPrefix             = "NEIGHBORLY"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "neighborly.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "neighborly_neighbor_id"
	defaultStatsSource    = "view"
	defaultCounterMode    = "atomic"
	defaultServerEndpoint = "http://localhost:8080"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	Database       database.Config
	LogLevel       string
	PageSize       int
	MaxPageSize    int
	StatsSource    feed.StatsSource
	RepairCounters bool
	CounterMode    posts.CounterMode
	CookieName     string
	AllowedOrigins []string
}

// ClientConfig captures configuration for the command-line client.
type ClientConfig struct {
	ServerURL string
	StatePath string
	PageSize  int
	LogLevel  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", database.DriverSQLite)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("feed.page_size", feed.DefaultPageSize)
	configViper.SetDefault("feed.max_page_size", feed.DefaultMaxPageSize)
	configViper.SetDefault("feed.stats_source", defaultStatsSource)
	configViper.SetDefault("feed.repair_counters", true)
	configViper.SetDefault("submission.counter_mode", defaultCounterMode)
	configViper.SetDefault("identity.cookie_name", defaultCookieName)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("client.server_url", defaultServerEndpoint)
	configViper.SetDefault("client.state_path", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	statsSource, err := feed.ParseStatsSource(configViper.GetString("feed.stats_source"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("feed.stats_source: %w", err)
	}
	counterMode, err := posts.ParseCounterMode(configViper.GetString("submission.counter_mode"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("submission.counter_mode: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		Database: database.Config{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		LogLevel:       configViper.GetString("log.level"),
		PageSize:       configViper.GetInt("feed.page_size"),
		MaxPageSize:    configViper.GetInt("feed.max_page_size"),
		StatsSource:    statsSource,
		RepairCounters: configViper.GetBool("feed.repair_counters"),
		CounterMode:    counterMode,
		CookieName:     configViper.GetString("identity.cookie_name"),
		AllowedOrigins: normalizeOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses the command-line client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL: strings.TrimRight(strings.TrimSpace(configViper.GetString("client.server_url")), "/"),
		StatePath: strings.TrimSpace(configViper.GetString("client.state_path")),
		PageSize:  configViper.GetInt("feed.page_size"),
		LogLevel:  configViper.GetString("log.level"),
	}
	if cfg.ServerURL == "" {
		return ClientConfig{}, fmt.Errorf("client.server_url is required")
	}
	if cfg.PageSize <= 0 {
		return ClientConfig{}, fmt.Errorf("feed.page_size must be positive")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.Database.Driver {
	case database.DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case database.DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("feed.max_page_size must be positive")
	}
	if c.PageSize <= 0 || c.PageSize > c.MaxPageSize {
		return fmt.Errorf("feed.page_size must be between 1 and %d", c.MaxPageSize)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("identity.cookie_name is required")
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		for _, part := range strings.Split(origin, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				normalized = append(normalized, trimmed)
			}
		}
	}
	return normalized
}
