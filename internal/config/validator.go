package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "container.call_timeout_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDataRoot()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateContainer()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateDataRoot() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.DataRoot) == "" {
		errors = append(errors, ValidationError{
			Field:   "data_root",
			Value:   c.DataRoot,
			Message: "cannot be empty",
		})
	}
	if strings.ContainsRune(c.DataRoot, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "data_root",
			Value:   c.DataRoot,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		errors = append(errors, ValidationError{
			Field:   "server.listen_addr",
			Value:   c.Server.ListenAddr,
			Message: "cannot be empty",
		})
	}

	return errors
}

func (c *Config) validateContainer() []ValidationError {
	var errors []ValidationError

	if !IsValidContainerBackend(c.Container.Backend) {
		errors = append(errors, ValidationError{
			Field:   "container.backend",
			Value:   c.Container.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidContainerBackends(), ", ")),
		})
	}

	const minTimeout = 1
	const maxTimeout = 600
	if c.Container.CallTimeoutSeconds < minTimeout {
		errors = append(errors, ValidationError{
			Field:   "container.call_timeout_seconds",
			Value:   c.Container.CallTimeoutSeconds,
			Message: fmt.Sprintf("must be at least %d", minTimeout),
		})
	}
	if c.Container.CallTimeoutSeconds > maxTimeout {
		errors = append(errors, ValidationError{
			Field:   "container.call_timeout_seconds",
			Value:   c.Container.CallTimeoutSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d", maxTimeout),
		})
	}

	if strings.TrimSpace(c.Container.Image) == "" {
		errors = append(errors, ValidationError{
			Field:   "container.image",
			Value:   c.Container.Image,
			Message: "cannot be empty",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !IsValidLogLevel(c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
