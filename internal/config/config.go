// Package config provides the configuration schema for Toolgate.
//
// Configuration is file-based (YAML) with environment variable overrides.
// Every duration field is a string in Go duration syntax ("30s", "1m") so
// the file reads the same as the flags.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the Toolgate gateway.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Cache selects the shared cache backing rate limiting and idempotency.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Database configures the SQLite store for exposure permissions and
	// queryable audit history.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// WORM configures the immutable audit object store.
	// Optional: when disabled, audit events go to the database sink only.
	WORM WORMConfig `yaml:"worm" mapstructure:"worm"`

	// Policy configures the external policy service.
	// Optional: when the endpoint is empty, evaluation uses the risk table
	// and the in-process fallback rules only.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// PAM configures the privileged access management service.
	// Optional: when the endpoint is empty, elevation uses token claims
	// and local grants only.
	PAM PAMConfig `yaml:"pam" mapstructure:"pam"`

	// Backend configures the business API gateway that tools call.
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// RateLimit configures the per-user and per-tool window quotas.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Batch configures batch execution.
	Batch BatchConfig `yaml:"batch" mapstructure:"batch"`

	// Auth configures caller authentication.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Exposure maps roles to exposure permissions. Optional: when empty,
	// permissions come from the database.
	Exposure map[string][]string `yaml:"exposure" mapstructure:"exposure"`

	// Tools defines the governed tool catalog.
	Tools []ToolConfig `yaml:"tools" mapstructure:"tools" validate:"omitempty,dive"`

	// DevMode enables development features (verbose logging, permissive
	// defaults).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on.
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	// Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`
}

// CacheConfig selects the cache store implementation.
type CacheConfig struct {
	// Mode is "memory" or "redis". Defaults to "memory".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=memory redis"`

	// Addr is the Redis address, required when Mode is "redis".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// Password is the optional Redis password.
	Password string `yaml:"password" mapstructure:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db" mapstructure:"db" validate:"omitempty,min=0"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite file path. Defaults to "toolgate.db".
	Path string `yaml:"path" mapstructure:"path"`
}

// WORMConfig configures the immutable audit object store.
type WORMConfig struct {
	// Enabled controls whether audit events are written to object storage.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Endpoint is the S3-compatible endpoint (e.g., "minio:9000").
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// AccessKey and SecretKey authenticate against the object store.
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`

	// Bucket is the target bucket, which must already exist.
	Bucket string `yaml:"bucket" mapstructure:"bucket"`

	// UseSSL enables TLS to the endpoint.
	UseSSL bool `yaml:"use_ssl" mapstructure:"use_ssl"`

	// RetentionDays is how long objects are marked retained.
	// Defaults to 2555 (seven years).
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// KeyPrefix is the object key prefix. Defaults to "audit-logs".
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// PolicyConfig configures the external policy service.
type PolicyConfig struct {
	// Endpoint is the full evaluation URL. Empty disables the external
	// layer.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`
}

// PAMConfig configures the privileged access management service.
type PAMConfig struct {
	// Endpoint is the PAM base URL. Empty disables the PAM layer.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`

	// GrantDuration is the default elevation lifetime (e.g., "1h").
	// Defaults to "1h".
	GrantDuration string `yaml:"grant_duration" mapstructure:"grant_duration" validate:"omitempty"`
}

// BackendConfig configures the business API gateway.
type BackendConfig struct {
	// BaseURL prefixes every tool endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey is sent as X-API-Key for tools with auth_type "api_key".
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// SubscriptionKey is sent as Ocp-Apim-Subscription-Key for tools with
	// auth_type "subscription_key".
	SubscriptionKey string `yaml:"subscription_key" mapstructure:"subscription_key"`

	// Timeout bounds one backend call (e.g., "30s"). Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// RateLimitConfig configures the fixed-window quotas. The effective limit
// of a call is the nominal rate scaled by the tool's risk-tier multiplier.
type RateLimitConfig struct {
	// UserRate is the nominal requests per window per caller.
	// Defaults to 100.
	UserRate int `yaml:"user_rate" mapstructure:"user_rate" validate:"omitempty,min=1"`

	// ToolRate is the nominal requests per window per tool.
	// Defaults to 50.
	ToolRate int `yaml:"tool_rate" mapstructure:"tool_rate" validate:"omitempty,min=1"`

	// Window is the fixed window length (e.g., "1m"). Defaults to "1m".
	Window string `yaml:"window" mapstructure:"window" validate:"omitempty"`
}

// BatchConfig configures batch execution.
type BatchConfig struct {
	// MaxConcurrency bounds parallel batch items. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"omitempty,min=1"`
}

// AuthConfig configures caller authentication.
type AuthConfig struct {
	// JWTSecret verifies bearer tokens (HMAC). Empty disables JWT
	// verification; callers then identify via headers only.
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`

	// APIKeys defines static API keys for service callers.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`

	// TrustIdentityHeaders keeps accepting plain X-User-ID/X-User-Roles
	// identity headers after token auth is configured, for deployments
	// where a trusted proxy terminates auth and forwards identity. When
	// neither jwt_secret nor api_keys is set the headers are always
	// trusted.
	TrustIdentityHeaders bool `yaml:"trust_identity_headers" mapstructure:"trust_identity_headers"`
}

// APIKeyConfig defines one API key credential.
type APIKeyConfig struct {
	// KeyHash is the argon2id hash of the key, as produced by the
	// hash-key command.
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,startswith=$argon2id$"`

	// UserID is the caller identity this key authenticates as.
	UserID string `yaml:"user_id" mapstructure:"user_id" validate:"required"`

	// Roles are granted to the caller on successful authentication.
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1"`
}

// ToolConfig defines one governed tool in the catalog.
type ToolConfig struct {
	// Name is the unique tool identifier.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Bundle groups related tools for exposure rules.
	Bundle string `yaml:"bundle" mapstructure:"bundle"`

	// Description is an optional human-readable description.
	Description string `yaml:"description" mapstructure:"description"`

	// RiskTier is "read", "write", or "privileged".
	RiskTier string `yaml:"risk_tier" mapstructure:"risk_tier" validate:"required,oneof=read write privileged"`

	// HTTPMethod and Endpoint describe the backend call. Endpoint may
	// contain {param} placeholders.
	HTTPMethod string `yaml:"http_method" mapstructure:"http_method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint" validate:"required"`

	// AuthType is "api_key" or "subscription_key". Defaults to "api_key".
	AuthType string `yaml:"auth_type" mapstructure:"auth_type" validate:"omitempty,oneof=api_key subscription_key"`
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.Server.LogLevel == "" || c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}

	// Expose everything to every role so a bare dev config can call tools.
	if len(c.Exposure) == 0 {
		c.Exposure = map[string][]string{
			"admin":     {"expose:all"},
			"developer": {"expose:all"},
			"operator":  {"expose:all"},
			"user":      {"expose:all"},
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults. Bind to localhost only; network access requires an
	// explicit http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Cache.Mode == "" {
		c.Cache.Mode = "memory"
	}

	if c.Database.Path == "" {
		c.Database.Path = "toolgate.db"
	}

	if c.WORM.RetentionDays == 0 {
		c.WORM.RetentionDays = 2555
	}
	if c.WORM.KeyPrefix == "" {
		c.WORM.KeyPrefix = "audit-logs"
	}

	if c.PAM.GrantDuration == "" {
		c.PAM.GrantDuration = "1h"
	}

	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "30s"
	}

	if c.RateLimit.UserRate == 0 {
		c.RateLimit.UserRate = 100
	}
	if c.RateLimit.ToolRate == 0 {
		c.RateLimit.ToolRate = 50
	}
	if c.RateLimit.Window == "" {
		c.RateLimit.Window = "1m"
	}

	if c.Batch.MaxConcurrency == 0 {
		c.Batch.MaxConcurrency = 10
	}

	for i := range c.Tools {
		if c.Tools[i].AuthType == "" {
			c.Tools[i].AuthType = "api_key"
		}
	}

	// viper.IsSet distinguishes "not set" from an explicit false, so an
	// operator can still disable the WORM sink with enabled: false while
	// the endpoint is configured.
	if !viper.IsSet("worm.enabled") && c.WORM.Endpoint != "" {
		c.WORM.Enabled = true
	}
}
