package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig configures batched persistence.
type IngestConfig struct {
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	CommitAttempts   int `yaml:"commit_attempts" mapstructure:"commit_attempts"`
	BackoffInitialMs int `yaml:"backoff_initial_ms" mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
}

// CRMConfig configures the sync target.
type CRMConfig struct {
	Provider           string            `yaml:"provider" mapstructure:"provider"`
	BaseURL            string            `yaml:"base_url" mapstructure:"base_url"`
	APIKey             string            `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs        int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts        int               `yaml:"max_attempts" mapstructure:"max_attempts"`
	CompanyConcurrency int               `yaml:"company_concurrency" mapstructure:"company_concurrency"`
	PersonConcurrency  int               `yaml:"person_concurrency" mapstructure:"person_concurrency"`
	RateLimit          float64           `yaml:"rate_limit" mapstructure:"rate_limit"`
	CompanyEndpoint    string            `yaml:"company_endpoint" mapstructure:"company_endpoint"`
	PersonEndpoint     string            `yaml:"person_endpoint" mapstructure:"person_endpoint"`
	CompanyFieldMap    map[string]string `yaml:"company_field_mapping" mapstructure:"company_field_mapping"`
	PersonFieldMap     map[string]string `yaml:"person_field_mapping" mapstructure:"person_field_mapping"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// SyncConfig configures the CRM sync fan-out.
type SyncConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the HTTP trigger API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FIRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets get empty defaults so their env vars are bound.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("ingest.batch_size", 30)
	v.SetDefault("ingest.commit_attempts", 4)
	v.SetDefault("ingest.backoff_initial_ms", 2000)
	v.SetDefault("ingest.backoff_max_ms", 10000)
	v.SetDefault("crm.provider", "attio")
	v.SetDefault("crm.base_url", "https://api.attio.com/v2")
	v.SetDefault("crm.api_key", "")
	v.SetDefault("crm.timeout_secs", 30)
	v.SetDefault("crm.max_attempts", 5)
	v.SetDefault("crm.company_concurrency", 15)
	v.SetDefault("crm.person_concurrency", 15)
	v.SetDefault("crm.rate_limit", 25)
	v.SetDefault("crm.company_endpoint", "objects/companies/records")
	v.SetDefault("crm.person_endpoint", "objects/people/records")
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("sync.workers", 15)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: migrate,
// runs, ingest, sync, serve.
func (c *Config) Validate(mode string) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch mode {
	case "migrate", "runs", "ingest", "sync", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required (a file path for sqlite)")
		}
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	if mode == "ingest" || mode == "serve" {
		if c.Ingest.BatchSize < 1 || c.Ingest.BatchSize > 1000 {
			add("ingest.batch_size must be between 1 and 1000")
		}
		if c.Ingest.CommitAttempts < 1 {
			add("ingest.commit_attempts must be >= 1")
		}
	}

	if mode == "sync" || mode == "serve" {
		switch c.CRM.Provider {
		case "attio":
			if c.CRM.APIKey == "" {
				add("crm.api_key is required")
			}
			if c.CRM.CompanyConcurrency < 1 || c.CRM.PersonConcurrency < 1 {
				add("crm.company_concurrency and crm.person_concurrency must be >= 1")
			}
		case "salesforce":
			if c.Salesforce.ClientID == "" {
				add("salesforce.client_id is required")
			}
			if c.Salesforce.Username == "" {
				add("salesforce.username is required")
			}
			if c.Salesforce.KeyPath == "" {
				add("salesforce.key_path is required")
			}
		default:
			add("crm.provider must be attio or salesforce, got %q", c.CRM.Provider)
		}
		if c.CRM.MaxAttempts < 1 {
			add("crm.max_attempts must be >= 1")
		}
		if c.Sync.Workers < 1 || c.Sync.Workers > 100 {
			add("sync.workers must be between 1 and 100")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		add("server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "config: invalid")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
