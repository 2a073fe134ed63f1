package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	Relay    RelayConfig    `json:"relay"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
}

// SourceConfig selects which inbound messages are relay candidates.
//
// SenderID is optional; when set only messages from that user are relayed.
type SourceConfig struct {
	ChatID     int64  `json:"chat_id"`
	SenderID   int64  `json:"sender_id,omitempty"`
	ButtonText string `json:"button_text,omitempty"` // default: "View Tweet"
}

// RelayConfig controls fan-out.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 5
//   - rate_per_sec: 0 (unlimited)
//   - registry_path: "./target_groups.json"
//   - context_ttl: "600s"
//   - alternate_host: "fxtwitter.com"
//   - deploy_button_text: "🚀 Deploy New Token"
//   - sweep_every: "1m"
//   - status_every: "10m"
type RelayConfig struct {
	MaxConcurrent    int    `json:"max_concurrent,omitempty"`
	RatePerSec       int    `json:"rate_per_sec,omitempty"`
	RegistryPath     string `json:"registry_path,omitempty"`
	ContextTTL       string `json:"context_ttl,omitempty"`
	AlternateHost    string `json:"alternate_host,omitempty"`
	DeployButtonText string `json:"deploy_button_text,omitempty"`
	SweepEvery       string `json:"sweep_every,omitempty"`
	StatusEvery      string `json:"status_every,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./relay_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
