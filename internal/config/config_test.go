package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/evmon/internal/config"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, config.Validate(cfg))
	assert.Equal(t, 256, cfg.Ingest.MaxSourceLength)
	assert.Equal(t, 8192, cfg.Ingest.MaxMessageLength)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.ClockSkewTolerance())
	assert.Equal(t, 50, cfg.Query.DefaultLimit)
	assert.Equal(t, 1000, cfg.Query.MaxLimit)
	assert.Equal(t, 5*time.Second, cfg.Storage.IOTimeout())
}

func TestLoaderAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	writeFile(t, path, "version: \"1\"\nquery:\n  max_limit: 200\n")

	l, err := config.NewLoader(path)
	require.NoError(t, err)
	cfg := l.Config()
	assert.Equal(t, 200, cfg.Query.MaxLimit)
	assert.Equal(t, 50, cfg.Query.DefaultLimit)
	assert.Equal(t, 64, cfg.Ingest.MaxAttributes)
}

func TestLoaderRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing version", body: "query:\n  max_limit: 10\n", want: "version is required"},
		{name: "default above max", body: "version: \"1\"\nquery:\n  default_limit: 500\n  max_limit: 100\n", want: "exceeds query.max_limit"},
		{name: "negative bound", body: "version: \"1\"\ningest:\n  max_attributes: -1\n", want: "ingest.max_attributes must be positive"},
		{name: "bad yaml", body: "version: [\n", want: "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "limits.yaml")
			writeFile(t, path, tt.body)
			_, err := config.NewLoader(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	writeFile(t, path, "version: \"1\"\nquery:\n  max_limit: 200\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	var calls atomic.Int32
	l.OnChange(func(*config.LimitsConfig) { calls.Add(1) })

	writeFile(t, path, "version: \"\"\n")
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, 200, l.Config().Query.MaxLimit)
	assert.Zero(t, calls.Load())

	writeFile(t, path, "version: \"2\"\nquery:\n  max_limit: 300\n")
	cfg, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Query.MaxLimit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatchHotReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	writeFile(t, path, "version: \"1\"\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	got := make(chan int, 8)
	l.OnChange(func(cfg *config.LimitsConfig) {
		select {
		case got <- cfg.Query.MaxLimit:
		default:
		}
	})
	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	writeFile(t, path, "version: \"1\"\nquery:\n  max_limit: 42\n  default_limit: 10\n")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-got:
			if v == 42 {
				assert.Equal(t, 42, l.Config().Query.MaxLimit)
				return
			}
		case <-deadline:
			t.Fatal("config change not picked up")
		}
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("EVMON_ADDR", "127.0.0.1:9999")
	t.Setenv("EVMON_LOG_FORMAT", "json")

	s, err := config.LoadSettings(config.NewViper())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", s.Addr)
	assert.Equal(t, "evmon.db", s.DB)
	assert.Equal(t, "json", s.Log.Format)
	assert.Equal(t, "info", s.Log.Level)
}

func TestSettingsRejectUnknownLogLevel(t *testing.T) {
	t.Setenv("EVMON_LOG_LEVEL", "chatty")
	_, err := config.LoadSettings(config.NewViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty")
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := config.NewLogger(config.LogSettings{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "k", "v")
	out := strings.TrimSpace(buf.String())
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestSampleLimitsFile(t *testing.T) {
	l, err := config.NewLoader(filepath.Join("..", "..", "configs", "evmon.yaml"))
	require.NoError(t, err)
	assert.Equal(t, *config.Default(), *l.Config())
}
