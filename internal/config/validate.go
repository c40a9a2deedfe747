package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the parts of the config that must be correct before the
// daemon can run. It does not fill defaults; callers treat empty optional
// fields as "use the built-in default".
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	base := strings.TrimSpace(cfg.HomeAssistant.BaseURL)
	if base == "" {
		return fmt.Errorf("home_assistant.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("home_assistant.base_url: invalid URL %q", base)
	}
	if strings.TrimSpace(cfg.HomeAssistant.Token) == "" {
		return fmt.Errorf("home_assistant.token is required")
	}
	if _, err := ParseDurationField("home_assistant.request_timeout", cfg.HomeAssistant.RequestTimeout); err != nil {
		return err
	}

	switch d := strings.TrimSpace(cfg.Storage.Driver); d {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q (want file or sqlite)", d)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	if cfg.Notify.Telegram.Enabled && strings.TrimSpace(cfg.Notify.Telegram.Token) == "" {
		return fmt.Errorf("notify.telegram.token is required when notify.telegram.enabled")
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.ChatID == 0 {
		return fmt.Errorf("notify.telegram.chat_id is required when notify.telegram.enabled")
	}
	if _, err := ParseDurationField("notify.telegram.poll_timeout", cfg.Notify.Telegram.PollTimeout); err != nil {
		return err
	}

	if cfg.API.Enabled {
		addr := strings.TrimSpace(cfg.API.Addr)
		if addr != "" && !isLoopbackAddr(addr) && cfg.API.Token == "" && !cfg.API.AllowInsecure {
			return fmt.Errorf("api.addr %q is not loopback; set api.token or api.allow_insecure", addr)
		}
		for path, raw := range map[string]string{
			"api.read_timeout":  cfg.API.ReadTimeout,
			"api.write_timeout": cfg.API.WriteTimeout,
			"api.idle_timeout":  cfg.API.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	if _, err := ParseDurationField("housekeeping.refresh_interval", cfg.Housekeeping.RefreshInterval); err != nil {
		return err
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	host = strings.Trim(host, "[]")
	switch host {
	case "localhost", "127.0.0.1", "::1", "":
		return true
	}
	return strings.HasPrefix(host, "127.")
}

// EffectiveWebsocketURL returns the Home Assistant websocket endpoint,
// deriving it from the base URL when not set explicitly.
func (h HomeAssistantConfig) EffectiveWebsocketURL() string {
	if ws := strings.TrimSpace(h.WebsocketURL); ws != "" {
		return ws
	}
	base := strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/api/websocket"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/api/websocket"
	default:
		return base + "/api/websocket"
	}
}
