package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/evaguard/evaguard/internal/domain/auth"
)

// RegisterCustomValidators registers evaguard-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	custom := map[string]validator.Func{
		"enforcement_mode": validateEnforcementMode,
		"evidence_path":    validateEvidencePath,
		"duration":         validateDuration,
		"cron_spec":        validateCronSpec,
		"key_hash":         validateKeyHash,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

func validateEnforcementMode(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ModeMonitor, ModeEnforce:
		return true
	default:
		return false
	}
}

// validateEvidencePath accepts a file path or ":memory:".
// Directories and SQLite URI parameters are rejected; the store adds its own.
func validateEvidencePath(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == ":memory:" {
		return true
	}
	if strings.ContainsAny(path, "?#") {
		return false
	}
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return false
	}
	return filepath.Base(path) != "."
}

// validateDuration accepts anything time.ParseDuration accepts, including "0".
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateCronSpec(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashTypeUnknown
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateUniqueKeyNames(); err != nil {
		return err
	}

	if err := c.validateRuleWatch(); err != nil {
		return err
	}

	return nil
}

// validateUniqueKeyNames ensures API key names are unique so log lines identify one key.
func (c *Config) validateUniqueKeyNames() error {
	seen := make(map[string]struct{}, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("auth.api_keys[%d]: duplicate name: %s", i, k.Name)
		}
		seen[k.Name] = struct{}{}
	}
	return nil
}

// validateRuleWatch ensures rules.watch has a file to watch.
func (c *Config) validateRuleWatch() error {
	if c.Rules.Watch && c.Rules.File == "" {
		return errors.New("rules: watch requires file to be set")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "enforcement_mode":
		return fmt.Sprintf("%s must be 'monitor' or 'enforce'", field)
	case "evidence_path":
		return fmt.Sprintf("%s must be a file path or ':memory:'", field)
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration (e.g. 30s, 5m)", field)
	case "cron_spec":
		return fmt.Sprintf("%s must be a standard cron expression", field)
	case "key_hash":
		return fmt.Sprintf("%s must be an argon2id PHC string or 'sha256:<hex>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
