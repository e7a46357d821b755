package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/botbridge/internal/domain/auth"
)

// minSigningKeyLen is the minimum HS256 signing key length in bytes.
const minSigningKeyLen = 32

// RegisterCustomValidators registers botbridge validation rules.
// Must be called before validating BridgeConfig.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_output":    validateAuditOutput,
		"capability_mode": validateCapabilityMode,
		"duration":        validateDuration,
		"key_hash":        validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput accepts "stdout", "stderr", "none" or "file://<absolute-path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	switch output {
	case "stdout", "stderr", "none":
		return true
	}
	if path, ok := strings.CutPrefix(output, "file://"); ok {
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

func validateCapabilityMode(fl validator.FieldLevel) bool {
	mode := fl.Field().String()
	return mode == ModeLocal || mode == ModeRemote
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashTypeUnknown
}

// Validate validates the BridgeConfig using struct tags and cross-field rules.
// Returns an error with actionable messages if validation fails.
func (c *BridgeConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return c.validateCapability()
}

// ValidateStdio checks rules that only apply when the channel runs over
// stdin/stdout.
func (c *BridgeConfig) ValidateStdio() error {
	if c.Audit.Output == "stdout" {
		return errors.New("audit.output cannot be 'stdout' in stdio mode: stdout carries channel frames")
	}
	if c.Telemetry.Enabled && c.Telemetry.Output == "stdout" {
		return errors.New("telemetry.output cannot be 'stdout' in stdio mode")
	}
	return nil
}

// validateCapability checks the settings required by the selected mode.
func (c *BridgeConfig) validateCapability() error {
	switch c.Capability.Mode {
	case ModeLocal:
		if n := len(c.Capability.Local.SigningKey); n < minSigningKeyLen {
			return fmt.Errorf("capability.local.signing_key must be at least %d bytes (got %d)", minSigningKeyLen, n)
		}
	case ModeRemote:
		if c.Capability.Remote.URL == "" {
			return errors.New("capability.remote.url is required in remote mode")
		}
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
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'stderr', 'none' or 'file://<absolute-path>'", field)
	case "capability_mode":
		return fmt.Sprintf("%s must be 'local' or 'remote'", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as '30s' or '5m'", field)
	case "key_hash":
		return fmt.Sprintf("%s must be an argon2id hash or 'sha256:<hex>' (see 'botbridge hash-key')", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
