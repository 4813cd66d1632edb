package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Settings are the process-level options: where to listen, which database
// file to use, where the limits file lives and how to log. They come from
// flags, EVMON_* environment variables and defaults, in that order.
type Settings struct {
	Addr   string      `mapstructure:"addr"`
	DB     string      `mapstructure:"db"`
	Config string      `mapstructure:"config"`
	Log    LogSettings `mapstructure:"log"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewViper returns a viper instance with defaults and environment binding
// in place. Flags are bound by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("EVMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("db", "evmon.db")
	v.SetDefault("config", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadSettings resolves Settings from v.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unable to unmarshal settings: %w", err)
	}
	if s.DB == "" {
		return Settings{}, fmt.Errorf("settings: db path is required")
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		return Settings{}, err
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return Settings{}, fmt.Errorf("settings: unknown log format %q (want text or json)", s.Log.Format)
	}
	return s, nil
}

// NewLogger builds the slog logger described by ls.
func NewLogger(ls LogSettings, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(ls.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if ls.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("settings: unknown log level %q", s)
	}
	return level, nil
}
