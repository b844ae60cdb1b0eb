package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Provider validation
	for key, p := range cfg.Providers {
		if p.Kind == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.kind must not be empty", key))
		} else if !isValidEnum(p.Kind, ValidProviderKinds) {
			errs = append(errs, fmt.Sprintf("providers.%s.kind must be one of %v, got %q", key, ValidProviderKinds, p.Kind))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.timeout must be non-negative, got %d", key, p.Timeout))
		}
		if p.MaxFailures < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.max_failures must be non-negative, got %d", key, p.MaxFailures))
		}
		if p.Enabled {
			switch p.Kind {
			case KindOpenAI:
				if p.APIBase == "" {
					errs = append(errs, fmt.Sprintf("providers.%s.api_base must be set for openai-compatible providers", key))
				}
				if p.Model == "" {
					errs = append(errs, fmt.Sprintf("providers.%s.model must be set", key))
				}
			case KindGemini:
				if p.Model == "" {
					errs = append(errs, fmt.Sprintf("providers.%s.model must be set", key))
				}
			case KindHuggingFace:
				if len(p.Models) == 0 {
					errs = append(errs, fmt.Sprintf("providers.%s.models must list at least one hosted model", key))
				}
			}
		}
	}

	// Dispatch validation
	if cfg.Dispatch.MinResponseLength < 0 {
		errs = append(errs, fmt.Sprintf("dispatch.min_response_length must be non-negative, got %d", cfg.Dispatch.MinResponseLength))
	}
	if cfg.Dispatch.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("dispatch.retry_max_attempts must be at least 1, got %d", cfg.Dispatch.RetryMaxAttempts))
	}
	if cfg.Dispatch.RetryBaseDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("dispatch.retry_base_delay_ms must be non-negative, got %d", cfg.Dispatch.RetryBaseDelayMs))
	}
	if cfg.Dispatch.RetryMaxDelayMs < cfg.Dispatch.RetryBaseDelayMs {
		errs = append(errs, fmt.Sprintf("dispatch.retry_max_delay_ms (%d) must not be below retry_base_delay_ms (%d)", cfg.Dispatch.RetryMaxDelayMs, cfg.Dispatch.RetryBaseDelayMs))
	}

	// Cache validation
	if cfg.Cache.TTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("cache.ttl_seconds must be non-negative, got %d", cfg.Cache.TTLSeconds))
	}
	if cfg.Cache.MaxMemoryEntries < 0 {
		errs = append(errs, fmt.Sprintf("cache.max_memory_entries must be non-negative, got %d", cfg.Cache.MaxMemoryEntries))
	}

	// Storage validation
	if cfg.Storage.RetentionDays < 0 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be non-negative, got %d", cfg.Storage.RetentionDays))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum reports whether value is one of the allowed values.
func isValidEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
