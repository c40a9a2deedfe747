package config

type Config struct {
	HomeAssistant HomeAssistantConfig `json:"home_assistant"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Notify        NotifyConfig        `json:"notify,omitempty"`
	API           APIConfig           `json:"api"`
	Housekeeping  HousekeepingConfig  `json:"housekeeping,omitempty"`
}

// HomeAssistantConfig points at the Home Assistant instance this daemon
// drives. Token is a long-lived access token (do not log).
//
// WebsocketURL is optional; when empty it is derived from BaseURL
// (http->ws, https->wss, path /api/websocket).
type HomeAssistantConfig struct {
	BaseURL      string `json:"base_url"`
	Token        string `json:"token"`
	WebsocketURL string `json:"websocket_url,omitempty"`

	// RequestTimeout is a Go duration string (e.g. "5s"). Default "10s".
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./quicktimerd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled=true
// with the banner channel only.
type NotifyConfig struct {
	Enabled    *bool          `json:"enabled,omitempty"`
	QueueSize  int            `json:"queue_size,omitempty"`
	RatePerSec int            `json:"rate_per_sec,omitempty"`
	Telegram   NotifyTelegram `json:"telegram,omitempty"`
}

type NotifyTelegram struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// APIConfig controls the inbound HTTP command surface.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8189").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8189"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// HousekeepingConfig controls periodic background work. RefreshInterval is a
// Go duration string for the status projection refresh job; default "15s".
type HousekeepingConfig struct {
	RefreshInterval string `json:"refresh_interval,omitempty"`
}
