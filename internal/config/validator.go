package config

import (
	"fmt"
	"strings"
)

// Validate checks the limits for:
//   - A version
//   - Strictly positive bounds and timeouts
//   - default_limit not above max_limit
func Validate(cfg *LimitsConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %d", name, v))
		}
	}
	positive("ingest.max_source_length", cfg.Ingest.MaxSourceLength)
	positive("ingest.max_message_length", cfg.Ingest.MaxMessageLength)
	positive("ingest.max_attributes", cfg.Ingest.MaxAttributes)
	positive("ingest.max_attribute_key_length", cfg.Ingest.MaxAttributeKeyLength)
	positive("ingest.max_attributes_bytes", cfg.Ingest.MaxAttributesBytes)
	positive("ingest.clock_skew_tolerance_ms", cfg.Ingest.ClockSkewToleranceMs)
	positive("ingest.max_batch_size", cfg.Ingest.MaxBatchSize)
	positive("query.default_limit", cfg.Query.DefaultLimit)
	positive("query.max_limit", cfg.Query.MaxLimit)
	positive("storage.io_timeout_ms", cfg.Storage.IOTimeoutMs)
	positive("storage.queue_depth", cfg.Storage.QueueDepth)

	if cfg.Storage.BusyRetries < 0 {
		errs = append(errs, fmt.Sprintf("storage.busy_retries must not be negative, got %d", cfg.Storage.BusyRetries))
	}
	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		errs = append(errs, fmt.Sprintf("query.default_limit (%d) exceeds query.max_limit (%d)", cfg.Query.DefaultLimit, cfg.Query.MaxLimit))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
