package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration using struct tags plus cross-field
// rules, returning actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateDurations(); err != nil {
		return err
	}
	if err := c.validateCacheMode(); err != nil {
		return err
	}
	if err := c.validateWORM(); err != nil {
		return err
	}
	if err := c.validateToolNames(); err != nil {
		return err
	}
	return nil
}

// validateDurations parses every duration-string field so a malformed value
// fails at startup instead of at first use.
func (c *Config) validateDurations() error {
	fields := map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"pam.grant_duration":      c.PAM.GrantDuration,
		"backend.timeout":         c.Backend.Timeout,
		"rate_limit.window":       c.RateLimit.Window,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}
	return nil
}

// validateCacheMode requires a Redis address when the cache mode is redis.
func (c *Config) validateCacheMode() error {
	if c.Cache.Mode == "redis" && c.Cache.Addr == "" {
		return errors.New("cache: addr is required when mode is redis")
	}
	return nil
}

// validateWORM requires connection fields when the WORM sink is enabled.
func (c *Config) validateWORM() error {
	if !c.WORM.Enabled {
		return nil
	}
	if c.WORM.Endpoint == "" {
		return errors.New("worm: endpoint is required when enabled")
	}
	if c.WORM.Bucket == "" {
		return errors.New("worm: bucket is required when enabled")
	}
	if c.WORM.AccessKey == "" || c.WORM.SecretKey == "" {
		return errors.New("worm: access_key and secret_key are required when enabled")
	}
	return nil
}

// validateToolNames rejects duplicate tool names in the catalog.
func (c *Config) validateToolNames() error {
	seen := make(map[string]struct{}, len(c.Tools))
	for i, t := range c.Tools {
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("tools[%d]: duplicate tool name %q", i, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for one
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
