package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/tournevent/courierhub/pkg/carrier/pathao"
	"github.com/tournevent/courierhub/pkg/carrier/redx"
	"github.com/tournevent/courierhub/pkg/carrier/steadfast"
	"go.opentelemetry.io/otel/attribute"
	"go.yaml.in/yaml/v4"
)

// Config holds all configuration for the service.
type Config struct {
	// ConfigFile is an optional YAML file whose keys override the environment.
	ConfigFile string `envconfig:"CONFIG_FILE" yaml:"-"`

	// Server
	Port     int    `envconfig:"PORT" default:"8080" yaml:"port"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`

	// TrustProxyHeaders takes client addresses from X-Forwarded-For and
	// X-Real-IP. Only enable behind a proxy that overwrites them.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false" yaml:"trust_proxy_headers"`

	// Infrastructure. Empty values select the in-process fallback.
	DatabaseURL  string   `envconfig:"DATABASE_URL" yaml:"database_url"`
	RedisAddr    string   `envconfig:"REDIS_ADDR" yaml:"redis_addr"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"courierhub.shipments" yaml:"kafka_topic"`

	// Dispatch
	DefaultCarrier string        `envconfig:"DEFAULT_CARRIER" yaml:"default_carrier"`
	CarrierTimeout time.Duration `envconfig:"CARRIER_TIMEOUT" default:"30s" yaml:"carrier_timeout"`
	LockWait       time.Duration `envconfig:"LOCK_WAIT" default:"5s" yaml:"lock_wait"`
	LockTTL        time.Duration `envconfig:"LOCK_TTL" default:"60s" yaml:"lock_ttl"`

	// Webhooks
	WebhookAuthEnabled bool   `envconfig:"WEBHOOK_AUTH_ENABLED" default:"true" yaml:"webhook_auth_enabled"`
	WebhookAuthMethod  string `envconfig:"WEBHOOK_AUTH_METHOD" default:"any" yaml:"webhook_auth_method"`
	WebhookSecret      string `envconfig:"WEBHOOK_SECRET" yaml:"webhook_secret"`
	AuditEnabled       bool   `envconfig:"AUDIT_ENABLED" default:"true" yaml:"audit_enabled"`
	AuditCapacity      int    `envconfig:"AUDIT_CAPACITY" default:"50" yaml:"audit_capacity"`

	// Steadfast
	SteadfastEnabled   bool   `envconfig:"STEADFAST_ENABLED" default:"false" yaml:"steadfast_enabled"`
	SteadfastUseMock   bool   `envconfig:"STEADFAST_USE_MOCK" default:"false" yaml:"steadfast_use_mock"`
	SteadfastBaseURL   string `envconfig:"STEADFAST_BASE_URL" yaml:"steadfast_base_url"`
	SteadfastAPIKey    string `envconfig:"STEADFAST_API_KEY" yaml:"steadfast_api_key"`
	SteadfastSecretKey string `envconfig:"STEADFAST_SECRET_KEY" yaml:"steadfast_secret_key"`

	// Pathao
	PathaoEnabled      bool   `envconfig:"PATHAO_ENABLED" default:"false" yaml:"pathao_enabled"`
	PathaoUseMock      bool   `envconfig:"PATHAO_USE_MOCK" default:"false" yaml:"pathao_use_mock"`
	PathaoBaseURL      string `envconfig:"PATHAO_BASE_URL" yaml:"pathao_base_url"`
	PathaoClientID     string `envconfig:"PATHAO_CLIENT_ID" yaml:"pathao_client_id"`
	PathaoClientSecret string `envconfig:"PATHAO_CLIENT_SECRET" yaml:"pathao_client_secret"`
	PathaoUsername     string `envconfig:"PATHAO_USERNAME" yaml:"pathao_username"`
	PathaoPassword     string `envconfig:"PATHAO_PASSWORD" yaml:"pathao_password"`
	PathaoStoreID      string `envconfig:"PATHAO_STORE_ID" yaml:"pathao_store_id"`

	// RedX
	RedXEnabled     bool   `envconfig:"REDX_ENABLED" default:"false" yaml:"redx_enabled"`
	RedXUseMock     bool   `envconfig:"REDX_USE_MOCK" default:"false" yaml:"redx_use_mock"`
	RedXBaseURL     string `envconfig:"REDX_BASE_URL" yaml:"redx_base_url"`
	RedXAccessToken string `envconfig:"REDX_ACCESS_TOKEN" yaml:"redx_access_token"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false" yaml:"otel_enabled"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"localhost:4318" yaml:"otel_endpoint"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"courierhub" yaml:"service_name"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1" yaml:"service_version"`
}

var authMethods = map[string]bool{"header": true, "api_header": true, "bearer": true, "query": true, "any": true}

// Load reads configuration from environment variables, then applies the
// CONFIG_FILE overlay when one is set.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.ConfigFile != "" {
		if err := cfg.overlay(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) overlay(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return nil
}

// Validate checks values the service cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d is out of range", c.Port))
	}
	if c.WebhookAuthEnabled {
		if !authMethods[c.WebhookAuthMethod] {
			problems = append(problems, fmt.Sprintf("WEBHOOK_AUTH_METHOD %q is not one of header, api_header, bearer, query, any", c.WebhookAuthMethod))
		}
		if c.WebhookSecret == "" {
			problems = append(problems, "WEBHOOK_SECRET is required when webhook authentication is enabled")
		}
	}
	switch c.DefaultCarrier {
	case "", "steadfast", "pathao", "redx":
	default:
		problems = append(problems, fmt.Sprintf("DEFAULT_CARRIER %q is not a known carrier", c.DefaultCarrier))
	}
	if c.AuditCapacity <= 0 {
		problems = append(problems, "AUDIT_CAPACITY must be positive")
	}
	if c.CarrierTimeout <= 0 {
		problems = append(problems, "CARRIER_TIMEOUT must be positive")
	}
	if c.RedisAddr != "" && c.LockTTL <= c.CarrierTimeout {
		problems = append(problems, fmt.Sprintf("LOCK_TTL %s must exceed CARRIER_TIMEOUT %s when REDIS_ADDR is set", c.LockTTL, c.CarrierTimeout))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SteadfastSettings returns the Steadfast carrier settings.
func (c *Config) SteadfastSettings() carrier.Settings {
	return carrier.Settings{
		ID:      "steadfast",
		Enabled: c.SteadfastEnabled,
		UseMock: c.SteadfastUseMock,
		BaseURL: c.SteadfastBaseURL,
		Timeout: c.CarrierTimeout,
		Credentials: map[string]string{
			steadfast.CredAPIKey:    c.SteadfastAPIKey,
			steadfast.CredSecretKey: c.SteadfastSecretKey,
		},
	}
}

// PathaoSettings returns the Pathao carrier settings.
func (c *Config) PathaoSettings() carrier.Settings {
	return carrier.Settings{
		ID:      "pathao",
		Enabled: c.PathaoEnabled,
		UseMock: c.PathaoUseMock,
		BaseURL: c.PathaoBaseURL,
		Timeout: c.CarrierTimeout,
		Credentials: map[string]string{
			pathao.CredClientID:     c.PathaoClientID,
			pathao.CredClientSecret: c.PathaoClientSecret,
			pathao.CredUsername:     c.PathaoUsername,
			pathao.CredPassword:     c.PathaoPassword,
			pathao.CredStoreID:      c.PathaoStoreID,
		},
	}
}

// RedXSettings returns the RedX carrier settings.
func (c *Config) RedXSettings() carrier.Settings {
	return carrier.Settings{
		ID:      "redx",
		Enabled: c.RedXEnabled,
		UseMock: c.RedXUseMock,
		BaseURL: c.RedXBaseURL,
		Timeout: c.CarrierTimeout,
		Credentials: map[string]string{
			redx.CredAccessToken: c.RedXAccessToken,
		},
	}
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("steadfast.enabled", c.SteadfastEnabled),
		attribute.Bool("pathao.enabled", c.PathaoEnabled),
		attribute.Bool("redx.enabled", c.RedXEnabled),
		attribute.String("default_carrier", c.DefaultCarrier),
	}
}
