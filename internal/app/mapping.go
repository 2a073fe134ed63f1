package app

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/housekeeping"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapLogConfig converts the logging section. An unparsable group_log leaves
// the Telegram sink without a chat, which Validate rejects earlier.
func mapLogConfig(cfg *config.Config) logx.Config {
	chatID, _ := config.GroupLogID(cfg)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func engineConfig(rc config.Relay) relay.EngineConfig {
	return relay.EngineConfig{MaxConcurrent: rc.MaxConcurrent, RatePerSec: rc.RatePerSec}
}

func formatter(rc config.Relay) relay.Formatter {
	return relay.Formatter{AlternateHost: rc.AlternateHost, DeployText: rc.DeployButtonText}
}

func housekeepingConfig(rc config.Relay) housekeeping.Config {
	return housekeeping.Config{SweepEvery: rc.SweepEvery, StatusEvery: rc.StatusEvery}
}

// restartRequired lists changed settings that only take effect on restart.
func restartRequired(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if strings.TrimSpace(oldCfg.Relay.RegistryPath) != strings.TrimSpace(newCfg.Relay.RegistryPath) {
		out = append(out, "relay.registry_path")
	}
	if strings.TrimSpace(oldCfg.Relay.ContextTTL) != strings.TrimSpace(newCfg.Relay.ContextTTL) {
		out = append(out, "relay.context_ttl")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	return out
}

// validate is the hot-reload gate: a config that would fail at startup is
// never committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	_, _, err := mapStorageConfig(cfg)
	return err
}
