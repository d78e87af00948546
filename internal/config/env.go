package config

import (
	"os"
	"strings"

	"hermes/pkg/logx"
)

// Environment overrides. A .env file next to the binary is loaded into the
// environment by the CLI before the config is parsed.
const (
	EnvTelegramToken = "HERMES_TELEGRAM_TOKEN"
	EnvADBPath       = "HERMES_ADB_PATH"
	EnvLogLevel      = "HERMES_LOG_LEVEL"
	EnvMetricsToken  = "HERMES_METRICS_TOKEN"
)

// ApplyEnv overwrites secrets and host-specific paths from the environment.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := env(EnvTelegramToken); v != "" {
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.Token = v
	}
	if v := env(EnvADBPath); v != "" {
		cfg.ADB.Path = v
	}
	if v := env(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := env(EnvMetricsToken); v != "" {
		cfg.Observability.Token = v
	}
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

// Logx converts the logging section for logx.New and Service.Apply.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
