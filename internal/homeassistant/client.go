// Package homeassistant talks to a Home Assistant instance: service calls
// over its REST API and state-change events over its WebSocket API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "quicktimerd/pkg/logx"
)

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration // per-request; 0 means 10s
}

// Client is a thin REST client. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// CallService invokes POST /api/services/{domain}/{service}. Non-2xx
// responses are returned as errors with a truncated body excerpt.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal service data: %w", err)
	}

	url := c.baseURL + "/api/services/" + domain + "/" + service
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", domain, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s.%s: status %d: %s", domain, service, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	c.log.Debug("service called",
		logx.String("domain", domain),
		logx.String("service", service),
	)
	return nil
}
