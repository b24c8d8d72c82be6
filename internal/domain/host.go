package domain

import (
	"context"

	"bluebridge/internal/config"
)

// InjectMeta attributes an injected or logged message.
type InjectMeta struct {
	From    string // sender address
	Channel string // "group:<chat>" or "dm:<sender>"
	Media   []Media
}

// Media is a downloaded attachment handed to the host with the message text.
type Media struct {
	Name     string
	MimeType string
	Data     []byte
}

// Host is the agent process that owns conversation sessions and generates replies.
type Host interface {
	RegisterConfigSchema(ctx context.Context, pluginID string, schema map[string]any) error
	PluginConfig() config.BlueBubblesConfig
	// Inject hands text to the session and blocks until the reply is ready.
	Inject(ctx context.Context, sessionKey, text string, meta InjectMeta) (string, error)
	LogMessage(ctx context.Context, sessionKey, text string, meta InjectMeta) error
}
