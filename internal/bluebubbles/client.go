// Package bluebubbles talks to a BlueBubbles server: the REST API under
// /api/v1 and the Socket.IO event stream.
package bluebubbles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bluebridge/internal/bus"
	"bluebridge/internal/domain"
)

const apiPrefix = "/api/v1"

// Config configures a Client.
type Config struct {
	ServerURL      string
	Password       string
	Timeout        time.Duration // per REST request; 0 = 30s
	ReconnectDelay time.Duration // 0 = 5s
	HTTPClient     *http.Client  // optional
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

// APIError is a non-success answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bluebubbles API %d: %s", e.StatusCode, e.Message)
}

// Client is the REST API plus event stream of one server. It implements
// domain.Client. A Client cannot be reconnected after Disconnect.
type Client struct {
	baseURL  string
	password string
	http     *http.Client
	logger   *slog.Logger

	events *bus.Dispatcher
	socket *socket
}

var _ domain.Client = (*Client)(nil)

// New creates a Client. Nothing is sent until a method is called.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.Timeout)
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.ServerURL, "/"),
		password: cfg.Password,
		http:     httpClient,
		logger:   cfg.Logger,
		events:   bus.New(100, cfg.Logger),
	}
	c.socket = &socket{
		serverURL: c.baseURL,
		password:  cfg.Password,
		dialer:    dialer,
		delay:     delay,
		events:    c.events,
		logger:    cfg.Logger,
	}
	return c
}

// On registers a handler for a server event. Handlers run one at a time.
func (c *Client) On(event string, handler domain.EventHandler) {
	c.events.On(event, handler)
}

// Connect opens the event stream and keeps it open, reconnecting after a
// fixed delay whenever it drops, until Disconnect. It returns once the first
// connection is established or has failed.
func (c *Client) Connect(ctx context.Context) error {
	return c.socket.start(ctx)
}

// Disconnect closes the event stream. Safe to call more than once.
func (c *Client) Disconnect() error {
	// Close the dispatcher first: a read loop blocked publishing into a full
	// queue must let go before stop waits for it.
	c.events.Close()
	return c.socket.stop()
}

// --- REST ---

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (c *Client) endpoint(path string) string {
	q := url.Values{}
	q.Set("password", c.password)
	return c.baseURL + apiPrefix + path + "?" + q.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// call performs a JSON request and decodes the envelope's data into out
// (which may be nil).
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	var env envelope
	if jerr := json.Unmarshal(raw, &env); jerr != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Message: truncate(strings.TrimSpace(string(raw)), 200)}
		}
		return fmt.Errorf("%s %s: decode: %w", method, path, jerr)
	}

	status := env.Status
	if status == 0 {
		status = resp.StatusCode
	}
	if resp.StatusCode != http.StatusOK || status != http.StatusOK {
		if status == http.StatusOK {
			status = resp.StatusCode
		}
		msg := env.Message
		if len(env.Error) > 0 && string(env.Error) != "null" {
			msg += ": " + string(env.Error)
		}
		return &APIError{StatusCode: status, Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// Ping reports whether the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	var pong string
	if err := c.call(ctx, http.MethodGet, "/ping", nil, &pong); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type serverInfoData struct {
	PrivateAPI      bool   `json:"private_api"`
	HelperConnected bool   `json:"helper_connected"`
	ServerVersion   string `json:"server_version"`
	OSVersion       string `json:"os_version"`
}

// ServerInfo fetches the server's version and capability flags.
func (c *Client) ServerInfo(ctx context.Context) (domain.ServerInfo, error) {
	var d serverInfoData
	if err := c.call(ctx, http.MethodGet, "/server/info", nil, &d); err != nil {
		return domain.ServerInfo{}, err
	}
	return domain.ServerInfo{
		PrivateAPI:      d.PrivateAPI,
		HelperConnected: d.HelperConnected,
		ServerVersion:   d.ServerVersion,
		OSVersion:       d.OSVersion,
	}, nil
}

type sendTextRequest struct {
	ChatGUID            string `json:"chatGuid"`
	TempGUID            string `json:"tempGuid"`
	Message             string `json:"message"`
	Method              string `json:"method,omitempty"`
	SelectedMessageGUID string `json:"selectedMessageGuid,omitempty"`
	PartIndex           *int   `json:"partIndex,omitempty"`
}

type sentMessage struct {
	GUID string `json:"guid"`
}

// SendText sends one text message. A reply target is only honoured by the
// private API; with AppleScript it is dropped.
func (c *Client) SendText(ctx context.Context, chatGUID, text string, opts domain.SendOptions) (domain.SendResult, error) {
	req := sendTextRequest{
		ChatGUID: chatGUID,
		TempGUID: uuid.NewString(),
		Message:  text,
		Method:   opts.Method,
	}
	if opts.ReplyToID != "" && opts.Method == domain.SendMethodPrivateAPI {
		part := 0
		req.SelectedMessageGUID = opts.ReplyToID
		req.PartIndex = &part
	}

	var sent sentMessage
	if err := c.call(ctx, http.MethodPost, "/message/text", req, &sent); err != nil {
		return domain.SendResult{}, err
	}
	return domain.SendResult{MessageID: sent.GUID}, nil
}

type reactRequest struct {
	ChatGUID            string `json:"chatGuid"`
	SelectedMessageGUID string `json:"selectedMessageGuid"`
	Reaction            string `json:"reaction"`
	PartIndex           int    `json:"partIndex"`
}

// SendReaction attaches a tapback to a message. Requires the private API.
func (c *Client) SendReaction(ctx context.Context, chatGUID, targetMessageID, reaction string, partIndex int) (domain.SendResult, error) {
	var sent sentMessage
	err := c.call(ctx, http.MethodPost, "/message/react", reactRequest{
		ChatGUID:            chatGUID,
		SelectedMessageGUID: targetMessageID,
		Reaction:            reaction,
		PartIndex:           partIndex,
	}, &sent)
	if err != nil {
		return domain.SendResult{}, err
	}
	return domain.SendResult{MessageID: sent.GUID}, nil
}

// DownloadAttachment returns the attachment's raw bytes.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentGUID string) ([]byte, error) {
	path := "/attachment/" + url.PathEscape(attachmentGUID) + "/download"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", attachmentGUID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: read body: %w", attachmentGUID, err)
	}
	return data, nil
}

// MarkRead marks every message in the chat as read. Requires the private API.
func (c *Client) MarkRead(ctx context.Context, chatGUID string) error {
	return c.call(ctx, http.MethodPost, "/chat/"+url.PathEscape(chatGUID)+"/read", nil, nil)
}
