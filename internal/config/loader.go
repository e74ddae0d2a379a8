// Package config provides configuration loading for Toolgate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for toolgate.yaml/.yml in
// standard locations. The search requires an explicit YAML extension so the
// binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("toolgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOOLGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("TOOLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a toolgate config file with
// an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".toolgate"),
		"/etc/toolgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "toolgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// overrides. Example: TOOLGATE_BACKEND_BASE_URL overrides backend.base_url.
// Array-valued keys (tools, auth.api_keys, exposure) stay file-only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.shutdown_timeout")

	_ = viper.BindEnv("cache.mode")
	_ = viper.BindEnv("cache.addr")
	_ = viper.BindEnv("cache.password")
	_ = viper.BindEnv("cache.db")

	_ = viper.BindEnv("database.path")

	_ = viper.BindEnv("worm.enabled")
	_ = viper.BindEnv("worm.endpoint")
	_ = viper.BindEnv("worm.access_key")
	_ = viper.BindEnv("worm.secret_key")
	_ = viper.BindEnv("worm.bucket")
	_ = viper.BindEnv("worm.use_ssl")
	_ = viper.BindEnv("worm.retention_days")
	_ = viper.BindEnv("worm.key_prefix")

	_ = viper.BindEnv("policy.endpoint")

	_ = viper.BindEnv("pam.endpoint")
	_ = viper.BindEnv("pam.grant_duration")

	_ = viper.BindEnv("backend.base_url")
	_ = viper.BindEnv("backend.api_key")
	_ = viper.BindEnv("backend.subscription_key")
	_ = viper.BindEnv("backend.timeout")

	_ = viper.BindEnv("rate_limit.user_rate")
	_ = viper.BindEnv("rate_limit.tool_rate")
	_ = viper.BindEnv("rate_limit.window")

	_ = viper.BindEnv("batch.max_concurrency")

	_ = viper.BindEnv("auth.jwt_secret")
	_ = viper.BindEnv("auth.trust_identity_headers")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. Callers that need to apply CLI flag
// overrides first should use LoadConfigRaw, then SetDevDefaults and
// Validate themselves.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or an
// empty string when running from environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
