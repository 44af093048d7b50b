package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// REPOCTL_REGISTRY_REGION for registry.region
const EnvPrefix = "REPOCTL"

// Config holds all configuration for the application
type Config struct {
	Registry       RegistryConfig
	Repository     RepositoryConfig
	Reconcile      ReconcileConfig
	AccessDefaults AccessDefaultsConfig
	Lifecycle      LifecycleConfig
	History        HistoryConfig
	Metrics        MetricsConfig
	Tracing        TracingConfig
	Log            LogConfig
}

// RegistryConfig holds container registry configuration
type RegistryConfig struct {
	Type      string
	Region    string
	Endpoint  string
	Retry     RetryConfig
	RateLimit RateLimitConfig
}

// RetryConfig holds the optional registry retry policy
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RateLimitConfig caps the registry request rate. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// RepositoryConfig describes the repository to reconcile
type RepositoryConfig struct {
	Name             string
	AccessPolicyFile string
	LifecycleFile    string
	ScanOnPush       bool
}

// ReconcileConfig holds reconciler behavior flags
type ReconcileConfig struct {
	ApplyLifecycle          bool
	AlwaysApplyAccessPolicy bool
	ManageScanOnPush        bool
	OperationTimeout        time.Duration
}

// AccessDefaultsConfig is the table the default access policy is built
// from. Empty action lists fall back to the built-in action tables.
type AccessDefaultsConfig struct {
	Version          string
	WriterSid        string
	ReaderSid        string
	WriterPrincipals []string
	ReaderPrincipals []string
	WriterActions    []string
	ReaderActions    []string
}

// LifecycleConfig holds the deployment default lifecycle policy
type LifecycleConfig struct {
	// DefaultUntaggedExpiryDays applies when no lifecycle file is given.
	// Zero means an explicit empty policy.
	DefaultUntaggedExpiryDays int
}

// HistoryConfig holds run history storage configuration
type HistoryConfig struct {
	Enabled   bool
	Driver    string
	DSN       string
	Retention time.Duration
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled        bool
	Namespace      string
	PushgatewayURL string
	Job            string
}

// TracingConfig holds distributed tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	Insecure       bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // console or json
}

// Load loads configuration from defaults, an optional config file and
// environment variables. An empty configFile searches for repoctl.yaml in
// the working directory and ./config.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("repoctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Set defaults
	setDefaults()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars only
	}

	// Override with environment variables
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindCompatEnv(); err != nil {
		return nil, err
	}

	config := &Config{
		Registry: RegistryConfig{
			Type:     viper.GetString("registry.type"),
			Region:   viper.GetString("registry.region"),
			Endpoint: viper.GetString("registry.endpoint"),
			Retry: RetryConfig{
				MaxAttempts:     viper.GetInt("registry.retry.max_attempts"),
				InitialInterval: viper.GetDuration("registry.retry.initial_interval"),
				MaxInterval:     viper.GetDuration("registry.retry.max_interval"),
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: viper.GetFloat64("registry.rate_limit.requests_per_second"),
				BurstSize:         viper.GetInt("registry.rate_limit.burst_size"),
			},
		},
		Repository: RepositoryConfig{
			Name:             viper.GetString("repository.name"),
			AccessPolicyFile: viper.GetString("repository.access_policy_file"),
			LifecycleFile:    viper.GetString("repository.lifecycle_file"),
			ScanOnPush:       viper.GetBool("repository.scan_on_push"),
		},
		Reconcile: ReconcileConfig{
			ApplyLifecycle:          viper.GetBool("reconcile.apply_lifecycle"),
			AlwaysApplyAccessPolicy: viper.GetBool("reconcile.always_apply_access_policy"),
			ManageScanOnPush:        viper.GetBool("reconcile.manage_scan_on_push"),
			OperationTimeout:        viper.GetDuration("reconcile.operation_timeout"),
		},
		AccessDefaults: AccessDefaultsConfig{
			Version:          viper.GetString("access_defaults.version"),
			WriterSid:        viper.GetString("access_defaults.writer_sid"),
			ReaderSid:        viper.GetString("access_defaults.reader_sid"),
			WriterPrincipals: viper.GetStringSlice("access_defaults.writer_principals"),
			ReaderPrincipals: viper.GetStringSlice("access_defaults.reader_principals"),
			WriterActions:    viper.GetStringSlice("access_defaults.writer_actions"),
			ReaderActions:    viper.GetStringSlice("access_defaults.reader_actions"),
		},
		Lifecycle: LifecycleConfig{
			DefaultUntaggedExpiryDays: viper.GetInt("lifecycle.default_untagged_expiry_days"),
		},
		History: HistoryConfig{
			Enabled:   viper.GetBool("history.enabled"),
			Driver:    viper.GetString("history.driver"),
			DSN:       viper.GetString("history.dsn"),
			Retention: viper.GetDuration("history.retention"),
		},
		Metrics: MetricsConfig{
			Enabled:        viper.GetBool("metrics.enabled"),
			Namespace:      viper.GetString("metrics.namespace"),
			PushgatewayURL: viper.GetString("metrics.pushgateway_url"),
			Job:            viper.GetString("metrics.job"),
		},
		Tracing: TracingConfig{
			Enabled:        viper.GetBool("tracing.enabled"),
			ServiceName:    viper.GetString("tracing.service_name"),
			ServiceVersion: viper.GetString("tracing.service_version"),
			Environment:    viper.GetString("tracing.environment"),
			OTLPEndpoint:   viper.GetString("tracing.otlp_endpoint"),
			SampleRate:     viper.GetFloat64("tracing.sample_rate"),
			Insecure:       viper.GetBool("tracing.insecure"),
		},
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}

	return config, nil
}

// bindCompatEnv accepts the inputs of the CI action this tool replaces
func bindCompatEnv() error {
	if err := viper.BindEnv("repository.name", EnvPrefix+"_REPOSITORY_NAME", "INPUT_DOCKER_REPO_NAME"); err != nil {
		return fmt.Errorf("failed to bind repository name env: %w", err)
	}
	if err := viper.BindEnv("registry.region", EnvPrefix+"_REGISTRY_REGION", "AWS_REGION"); err != nil {
		return fmt.Errorf("failed to bind region env: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Registry defaults
	viper.SetDefault("registry.type", "ecr")
	viper.SetDefault("registry.region", "")
	viper.SetDefault("registry.endpoint", "")
	viper.SetDefault("registry.retry.max_attempts", 1)
	viper.SetDefault("registry.retry.initial_interval", 500*time.Millisecond)
	viper.SetDefault("registry.retry.max_interval", 10*time.Second)
	viper.SetDefault("registry.rate_limit.requests_per_second", 0)
	viper.SetDefault("registry.rate_limit.burst_size", 5)

	// Repository defaults
	viper.SetDefault("repository.name", "")
	viper.SetDefault("repository.access_policy_file", "")
	viper.SetDefault("repository.lifecycle_file", "")
	viper.SetDefault("repository.scan_on_push", true)

	// Reconcile defaults
	viper.SetDefault("reconcile.apply_lifecycle", true)
	viper.SetDefault("reconcile.always_apply_access_policy", true)
	viper.SetDefault("reconcile.manage_scan_on_push", true)
	viper.SetDefault("reconcile.operation_timeout", 30*time.Second)

	// Access policy defaults
	viper.SetDefault("access_defaults.version", "2008-10-17")
	viper.SetDefault("access_defaults.writer_sid", "AllowReadWrite")
	viper.SetDefault("access_defaults.reader_sid", "AllowReadOnly")
	viper.SetDefault("access_defaults.writer_principals", []string{})
	viper.SetDefault("access_defaults.reader_principals", []string{})
	viper.SetDefault("access_defaults.writer_actions", []string{})
	viper.SetDefault("access_defaults.reader_actions", []string{})

	// Lifecycle defaults
	viper.SetDefault("lifecycle.default_untagged_expiry_days", 30)

	// History defaults
	viper.SetDefault("history.enabled", false)
	viper.SetDefault("history.driver", "sqlite")
	viper.SetDefault("history.dsn", "repoctl-history.db")
	viper.SetDefault("history.retention", 0)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.namespace", "repo_provisioner")
	viper.SetDefault("metrics.pushgateway_url", "")
	viper.SetDefault("metrics.job", "repoctl")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "repo-provisioner")
	viper.SetDefault("tracing.service_version", "1.0.0")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

// Validate checks the settings a reconcile run cannot do without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Repository.Name) == "" {
		return errors.New("repository name is required (--name, REPOCTL_REPOSITORY_NAME or INPUT_DOCKER_REPO_NAME)")
	}
	if c.Reconcile.OperationTimeout < 0 {
		return fmt.Errorf("reconcile.operation_timeout must not be negative, got %v", c.Reconcile.OperationTimeout)
	}
	if c.Registry.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("registry.rate_limit.requests_per_second must not be negative, got %v", c.Registry.RateLimit.RequestsPerSecond)
	}
	if c.Lifecycle.DefaultUntaggedExpiryDays < 0 {
		return fmt.Errorf("lifecycle.default_untagged_expiry_days must not be negative, got %d", c.Lifecycle.DefaultUntaggedExpiryDays)
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported history driver: %s", c.History.Driver)
	}
	return nil
}
