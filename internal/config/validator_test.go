package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Validate() on default config = %v, want no errors", errs)
	}
}

func TestConfig_Validate_EmptyDataRoot(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = ""

	errs := cfg.Validate()
	if !containsField(errs, "data_root") {
		t.Errorf("Validate() should flag empty data_root, got %v", errs)
	}
}

func TestConfig_Validate_EmptyListenAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.ListenAddr = ""

	errs := cfg.Validate()
	if !containsField(errs, "server.listen_addr") {
		t.Errorf("Validate() should flag empty listen_addr, got %v", errs)
	}
}

func TestConfig_Validate_UnknownContainerBackend(t *testing.T) {
	cfg := Default()
	cfg.Container.Backend = "kubernetes"

	errs := cfg.Validate()
	if !containsField(errs, "container.backend") {
		t.Errorf("Validate() should flag unknown backend, got %v", errs)
	}
}

func TestConfig_Validate_CallTimeoutBounds(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		wantErr bool
	}{
		{"zero", 0, true},
		{"negative", -5, true},
		{"minimum", 1, false},
		{"typical", 30, false},
		{"maximum", 600, false},
		{"too large", 601, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Container.CallTimeoutSeconds = tt.seconds
			errs := cfg.Validate()
			got := containsField(errs, "container.call_timeout_seconds")
			if got != tt.wantErr {
				t.Errorf("CallTimeoutSeconds=%d: containsField=%v, want %v (errs=%v)", tt.seconds, got, tt.wantErr, errs)
			}
		})
	}
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"

	errs := cfg.Validate()
	if !containsField(errs, "logging.level") {
		t.Errorf("Validate() should flag invalid log level, got %v", errs)
	}
}

func TestConfig_Validate_LogSizeBounds(t *testing.T) {
	cfg := Default()
	cfg.Logging.MaxSizeMB = 0
	if errs := cfg.Validate(); !containsField(errs, "logging.max_size_mb") {
		t.Errorf("Validate() should flag zero max_size_mb, got %v", errs)
	}

	cfg = Default()
	cfg.Logging.MaxSizeMB = 5000
	if errs := cfg.Validate(); !containsField(errs, "logging.max_size_mb") {
		t.Errorf("Validate() should flag oversized max_size_mb, got %v", errs)
	}
}

func containsField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
