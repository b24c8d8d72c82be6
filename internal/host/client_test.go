package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/config"
	"bluebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestHost(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL: srv.URL + "/",
		APIKey:  "key-123",
		Timeout: 5 * time.Second,
		Plugin:  config.BlueBubblesConfig{ServerURL: "http://mac:1234"},
		Logger:  testLogger(),
	})
}

func TestInject(t *testing.T) {
	var got sessionRequest
	c := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/inject", r.URL.Path)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "hi there"})
	})

	reply, err := c.Inject(context.Background(), "bluebubbles:chat", "hello", domain.InjectMeta{From: "+1555", Channel: "dm:+1555"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, sessionRequest{SessionKey: "bluebubbles:chat", Text: "hello", From: "+1555", Channel: "dm:+1555"}, got)
}

func TestInject_Media(t *testing.T) {
	var raw map[string]any
	c := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "nice photo"})
	})

	meta := domain.InjectMeta{
		From:    "+1555",
		Channel: "dm:+1555",
		Media:   []domain.Media{{Name: "pic.jpg", MimeType: "image/jpeg", Data: []byte("jpegdata")}},
	}
	_, err := c.Inject(context.Background(), "k", "look [attachment: pic.jpg]", meta)
	require.NoError(t, err)

	media, ok := raw["media"].([]any)
	require.True(t, ok, "media missing from request: %v", raw)
	require.Len(t, media, 1)
	item := media[0].(map[string]any)
	assert.Equal(t, "pic.jpg", item["name"])
	assert.Equal(t, "image/jpeg", item["mimeType"])
	assert.Equal(t, "anBlZ2RhdGE=", item["data"])
}

func TestInject_Error(t *testing.T) {
	c := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	})

	_, err := c.Inject(context.Background(), "k", "t", domain.InjectMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestLogMessage(t *testing.T) {
	called := false
	c := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/api/sessions/log", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.LogMessage(context.Background(), "k", "t", domain.InjectMeta{}))
	assert.True(t, called)
}

func TestRegisterConfigSchema(t *testing.T) {
	var body map[string]any
	c := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/plugins/bluebubbles/schema", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.RegisterConfigSchema(context.Background(), config.PluginID, config.Schema()))
	assert.Contains(t, body, "schema")
}

func TestPluginConfig(t *testing.T) {
	c := New(Config{Plugin: config.BlueBubblesConfig{ServerURL: "http://mac:1234"}})
	assert.Equal(t, "http://mac:1234", c.PluginConfig().ServerURL)
}

func TestNoAPIKeyNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": ""})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Logger: testLogger()})
	_, err := c.Inject(context.Background(), "k", "t", domain.InjectMeta{})
	require.NoError(t, err)
}
