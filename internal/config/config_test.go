package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseYAMLAndJSON(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			body: "telegram:\n  token: abc\nsource:\n  chat_id: -1001\n  button_text: Open\nrelay:\n  max_concurrent: 3\n",
		},
		{
			name: "json",
			file: "config.json",
			body: `{"telegram":{"token":"abc"},"source":{"chat_id":-1001,"button_text":"Open"},"relay":{"max_concurrent":3}}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(TokenEnv, "")
			m := NewConfigManager(writeFile(t, tt.file, tt.body))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if cfg.Telegram.Token != "abc" {
				t.Fatalf("Token = %q, want abc", cfg.Telegram.Token)
			}
			if cfg.Source.ChatID != -1001 || cfg.Source.ButtonText != "Open" {
				t.Fatalf("Source = %+v", cfg.Source)
			}
			if cfg.Relay.MaxConcurrent != 3 {
				t.Fatalf("MaxConcurrent = %d, want 3", cfg.Relay.MaxConcurrent)
			}
			if m.Get() != cfg {
				t.Fatal("expected Get to return committed config")
			}
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"bogus":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{}}{"telegram":{}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestTokenEnvOverride(t *testing.T) {
	t.Setenv(TokenEnv, "from-env")
	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"file"}}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("Token = %q, want from-env", cfg.Telegram.Token)
	}
}

func TestResolveRelayDefaults(t *testing.T) {
	t.Parallel()
	r, err := ResolveRelay(&Config{Source: SourceConfig{ChatID: 7}})
	if err != nil {
		t.Fatalf("ResolveRelay error: %v", err)
	}
	want := Relay{
		SourceChatID:     7,
		ButtonText:       DefaultButtonText,
		MaxConcurrent:    DefaultMaxConcurrent,
		RegistryPath:     DefaultRegistryPath,
		ContextTTL:       600 * time.Second,
		AlternateHost:    DefaultAlternateHost,
		DeployButtonText: DefaultDeployButtonText,
		SweepEvery:       time.Minute,
		StatusEvery:      10 * time.Minute,
	}
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("ResolveRelay = %+v, want %+v", r, want)
	}
}

func TestResolveRelayInvalid(t *testing.T) {
	t.Parallel()
	if _, err := ResolveRelay(&Config{Relay: RelayConfig{ContextTTL: "soon"}}); err == nil {
		t.Fatal("expected error for invalid context_ttl")
	}
	if _, err := ResolveRelay(&Config{Relay: RelayConfig{RatePerSec: -1}}); err == nil {
		t.Fatal("expected error for negative rate")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := &Config{Telegram: TelegramConfig{Token: "t", GroupLog: "-100"}, Source: SourceConfig{ChatID: 1}}
	if err := Validate(ok); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil", nil},
		{"no token", &Config{Source: SourceConfig{ChatID: 1}}},
		{"no source", &Config{Telegram: TelegramConfig{Token: "t"}}},
		{"bad group log", &Config{Telegram: TelegramConfig{Token: "t", GroupLog: "ops"}, Source: SourceConfig{ChatID: 1}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := Validate(tt.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Relay: RelayConfig{MaxConcurrent: 5}}
	b := &Config{Relay: RelayConfig{MaxConcurrent: 8}, Logging: LoggingConfig{Level: "debug"}}
	changed, attrs := SummarizeChange(a, b)
	if !reflect.DeepEqual(changed, []string{"relay", "logging"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first := &Config{Source: SourceConfig{ChatID: 1}}
	second := &Config{Source: SourceConfig{ChatID: 2}}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("got chat_id %d, want 2", got.Source.ChatID)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
}

func TestReloadSkipsUnchanged(t *testing.T) {
	t.Setenv(TokenEnv, "")
	path := writeFile(t, "config.json", `{"source":{"chat_id":5}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if m.reload(ctx) {
		t.Fatal("expected unchanged config to be skipped")
	}
	if err := os.WriteFile(path, []byte(`{"source":{"chat_id":6}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(ctx) {
		t.Fatal("expected changed config to publish")
	}
	if m.Get().Source.ChatID != 6 {
		t.Fatalf("ChatID = %d, want 6", m.Get().Source.ChatID)
	}
}
