package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TokenEnv overrides telegram.token when set.
const TokenEnv = "RELAY_TELEGRAM_TOKEN"

const (
	DefaultButtonText       = "View Tweet"
	DefaultDeployButtonText = "🚀 Deploy New Token"
	DefaultAlternateHost    = "fxtwitter.com"
	DefaultRegistryPath     = "./target_groups.json"
	DefaultMaxConcurrent    = 5
	DefaultContextTTL       = 600 * time.Second
)

// Relay is the typed, defaulted view of the relay and source sections.
type Relay struct {
	SourceChatID     int64
	SourceSenderID   int64
	ButtonText       string
	MaxConcurrent    int
	RatePerSec       int
	RegistryPath     string
	ContextTTL       time.Duration
	AlternateHost    string
	DeployButtonText string
	SweepEvery       time.Duration
	StatusEvery      time.Duration
}

// ResolveRelay applies defaults and parses durations.
func ResolveRelay(cfg *Config) (Relay, error) {
	if cfg == nil {
		return Relay{}, errors.New("config is nil")
	}
	rc := cfg.Relay
	out := Relay{
		SourceChatID:     cfg.Source.ChatID,
		SourceSenderID:   cfg.Source.SenderID,
		ButtonText:       strings.TrimSpace(cfg.Source.ButtonText),
		MaxConcurrent:    rc.MaxConcurrent,
		RatePerSec:       rc.RatePerSec,
		RegistryPath:     strings.TrimSpace(rc.RegistryPath),
		AlternateHost:    strings.TrimSpace(rc.AlternateHost),
		DeployButtonText: strings.TrimSpace(rc.DeployButtonText),
	}
	if out.ButtonText == "" {
		out.ButtonText = DefaultButtonText
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = DefaultMaxConcurrent
	}
	if out.RatePerSec < 0 {
		return Relay{}, fmt.Errorf("relay.rate_per_sec: must be >= 0")
	}
	if out.RegistryPath == "" {
		out.RegistryPath = DefaultRegistryPath
	}
	if out.AlternateHost == "" {
		out.AlternateHost = DefaultAlternateHost
	}
	if out.DeployButtonText == "" {
		out.DeployButtonText = DefaultDeployButtonText
	}

	var err error
	if out.ContextTTL, err = ParseDurationOrDefault("relay.context_ttl", rc.ContextTTL, DefaultContextTTL); err != nil {
		return Relay{}, err
	}
	if out.SweepEvery, err = ParseDurationOrDefault("relay.sweep_every", rc.SweepEvery, time.Minute); err != nil {
		return Relay{}, err
	}
	if out.StatusEvery, err = ParseDurationOrDefault("relay.status_every", rc.StatusEvery, 10*time.Minute); err != nil {
		return Relay{}, err
	}
	return out, nil
}

// Validate checks fields that have no sensible default.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", TokenEnv)
	}
	if cfg.Source.ChatID == 0 {
		return errors.New("source.chat_id is required")
	}
	if _, err := GroupLogID(cfg); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	_, err := ResolveRelay(cfg)
	return err
}

// GroupLogID parses telegram.group_log; empty means no log chat.
func GroupLogID(cfg *Config) (int64, error) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q: %w", raw, err)
	}
	return id, nil
}

func applyEnv(cfg *Config) {
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		cfg.Telegram.Token = tok
	}
}
