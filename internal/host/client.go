// Package host implements domain.Host against the agent host's HTTP API.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bluebridge/internal/config"
	"bluebridge/internal/domain"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // bounds Inject, which waits for a generated reply
	Plugin     config.BlueBubblesConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the host process.
type Client struct {
	baseURL string
	apiKey  string
	plugin  config.BlueBubblesConfig
	client  *http.Client
	logger  *slog.Logger
}

var _ domain.Host = (*Client)(nil)

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = time.Duration(config.DefaultHostTimeout) * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		plugin:  cfg.Plugin,
		client:  hc,
		logger:  cfg.Logger,
	}
}

type sessionRequest struct {
	SessionKey string         `json:"sessionKey"`
	Text       string         `json:"text"`
	From       string         `json:"from"`
	Channel    string         `json:"channel"`
	Media      []mediaPayload `json:"media,omitempty"`
}

// mediaPayload carries attachment bytes base64-encoded, as encoding/json
// does for []byte.
type mediaPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data"`
}

func mediaPayloads(media []domain.Media) []mediaPayload {
	if len(media) == 0 {
		return nil
	}
	out := make([]mediaPayload, len(media))
	for i, m := range media {
		out[i] = mediaPayload{Name: m.Name, MimeType: m.MimeType, Data: m.Data}
	}
	return out
}

type injectResponse struct {
	Reply string `json:"reply"`
}

// PluginConfig returns the bluebubbles section the host was started with.
func (c *Client) PluginConfig() config.BlueBubblesConfig {
	return c.plugin
}

// RegisterConfigSchema publishes the plugin's config schema.
func (c *Client) RegisterConfigSchema(ctx context.Context, pluginID string, schema map[string]any) error {
	path := "/api/plugins/" + url.PathEscape(pluginID) + "/schema"
	return c.post(ctx, path, map[string]any{"schema": schema}, nil)
}

// LogMessage records an inbound message in the session transcript.
func (c *Client) LogMessage(ctx context.Context, sessionKey, text string, meta domain.InjectMeta) error {
	return c.post(ctx, "/api/sessions/log", sessionRequest{
		SessionKey: sessionKey,
		Text:       text,
		From:       meta.From,
		Channel:    meta.Channel,
	}, nil)
}

// Inject hands text to the session and waits for the generated reply.
func (c *Client) Inject(ctx context.Context, sessionKey, text string, meta domain.InjectMeta) (string, error) {
	start := time.Now()
	var resp injectResponse
	err := c.post(ctx, "/api/sessions/inject", sessionRequest{
		SessionKey: sessionKey,
		Text:       text,
		From:       meta.From,
		Channel:    meta.Channel,
		Media:      mediaPayloads(meta.Media),
	}, &resp)
	if err != nil {
		return "", err
	}
	c.logger.Debug("host reply received", "session", sessionKey, "duration", time.Since(start), "chars", len(resp.Reply))
	return resp.Reply, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("host %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("host %s %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("host %s: decode: %w", path, err)
	}
	return nil
}
