package config

import "time"

// LimitsConfig is the top-level YAML structure of the limits file.
type LimitsConfig struct {
	Version string      `yaml:"version" json:"version"`
	Ingest  IngestConf  `yaml:"ingest" json:"ingest"`
	Query   QueryConf   `yaml:"query" json:"query"`
	Storage StorageConf `yaml:"storage" json:"storage"`
}

// IngestConf bounds what a single candidate may carry. Swapped live on reload.
type IngestConf struct {
	MaxSourceLength       int `yaml:"max_source_length" json:"max_source_length"`   // bytes
	MaxMessageLength      int `yaml:"max_message_length" json:"max_message_length"` // characters
	MaxAttributes         int `yaml:"max_attributes" json:"max_attributes"`
	MaxAttributeKeyLength int `yaml:"max_attribute_key_length" json:"max_attribute_key_length"`
	MaxAttributesBytes    int `yaml:"max_attributes_bytes" json:"max_attributes_bytes"` // serialized JSON
	ClockSkewToleranceMs  int `yaml:"clock_skew_tolerance_ms" json:"clock_skew_tolerance_ms"`
	MaxBatchSize          int `yaml:"max_batch_size" json:"max_batch_size"`
}

// ClockSkewTolerance is how far in the future occurred_at may lie.
func (c IngestConf) ClockSkewTolerance() time.Duration {
	return time.Duration(c.ClockSkewToleranceMs) * time.Millisecond
}

// QueryConf holds page size settings. Swapped live on reload.
type QueryConf struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`
}

// StorageConf is read once at startup.
type StorageConf struct {
	IOTimeoutMs int `yaml:"io_timeout_ms" json:"io_timeout_ms"`
	QueueDepth  int `yaml:"queue_depth" json:"queue_depth"`
	BusyRetries int `yaml:"busy_retries" json:"busy_retries"`
}

func (c StorageConf) IOTimeout() time.Duration {
	return time.Duration(c.IOTimeoutMs) * time.Millisecond
}

// Default returns the limits used when no file is configured.
func Default() *LimitsConfig {
	cfg := &LimitsConfig{Version: "1"}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *LimitsConfig) {
	in := &cfg.Ingest
	if in.MaxSourceLength == 0 {
		in.MaxSourceLength = 256
	}
	if in.MaxMessageLength == 0 {
		in.MaxMessageLength = 8192
	}
	if in.MaxAttributes == 0 {
		in.MaxAttributes = 64
	}
	if in.MaxAttributeKeyLength == 0 {
		in.MaxAttributeKeyLength = 128
	}
	if in.MaxAttributesBytes == 0 {
		in.MaxAttributesBytes = 16384
	}
	if in.ClockSkewToleranceMs == 0 {
		in.ClockSkewToleranceMs = 5 * 60 * 1000
	}
	if in.MaxBatchSize == 0 {
		in.MaxBatchSize = 100
	}

	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = 50
	}
	if cfg.Query.MaxLimit == 0 {
		cfg.Query.MaxLimit = 1000
	}

	if cfg.Storage.IOTimeoutMs == 0 {
		cfg.Storage.IOTimeoutMs = 5000
	}
	if cfg.Storage.QueueDepth == 0 {
		cfg.Storage.QueueDepth = 1024
	}
	if cfg.Storage.BusyRetries == 0 {
		cfg.Storage.BusyRetries = 5
	}
}
