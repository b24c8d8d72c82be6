package domain

import (
	"context"
	"time"
)

// Event names pushed by the server's event stream.
const (
	EventNewMessage      = "new-message"
	EventUpdatedMessage  = "updated-message"
	EventTypingIndicator = "typing-indicator"
)

// Send methods understood by the server.
const (
	SendMethodAppleScript = "apple-script"
	SendMethodPrivateAPI  = "private-api"
)

// Event is one decoded push event. Exactly one of Message or Typing is set
// for the known event names.
type Event struct {
	Name       string
	Message    *InboundMessage
	Typing     *TypingNotification
	ReceivedAt time.Time
}

// EventHandler is invoked once per event. Handlers registered on one client
// are never invoked concurrently with each other.
type EventHandler func(ctx context.Context, ev Event)

// SendOptions tune a text send.
type SendOptions struct {
	Method    string
	ReplyToID string // selected message guid; empty for none
}

// SendResult is what the server reports for an accepted send.
type SendResult struct {
	MessageID string
}

// ServerInfo carries the capability flags the bridge cares about.
type ServerInfo struct {
	PrivateAPI      bool
	HelperConnected bool
	ServerVersion   string
	OSVersion       string
}

// Client is the event transport plus remote API of one server.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	On(event string, handler EventHandler)

	Ping(ctx context.Context) (bool, error)
	ServerInfo(ctx context.Context) (ServerInfo, error)
	SendText(ctx context.Context, chatGUID, text string, opts SendOptions) (SendResult, error)
	SendReaction(ctx context.Context, chatGUID, targetMessageID, reaction string, partIndex int) (SendResult, error)
	DownloadAttachment(ctx context.Context, attachmentGUID string) ([]byte, error)
	MarkRead(ctx context.Context, chatGUID string) error
}
