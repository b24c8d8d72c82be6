package channel

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"bluebridge/internal/config"
	"bluebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sentText struct {
	Chat string
	Text string
	Opts domain.SendOptions
}

type sentReaction struct {
	Chat, Target, Reaction string
}

// fakeClient is an in-memory domain.Client.
type fakeClient struct {
	mu sync.Mutex

	pingOK    bool
	pingErr   error
	info      domain.ServerInfo
	infoErr   error
	connErr   error
	sendErr   func(call int, text string) error
	downloads map[string][]byte
	dlErr     error
	markErr   error

	// Called once, outside the lock, at the start of the matching method.
	onServerInfo func()
	onConnect    func()

	handlers     map[string]domain.EventHandler
	texts        []sentText
	reactions    []sentReaction
	marked       []string
	downloaded   []string
	connected    bool
	disconnects  int
	sendAttempts int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pingOK:    true,
		handlers:  make(map[string]domain.EventHandler),
		downloads: make(map[string][]byte),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if hook := f.onConnect; hook != nil {
		f.onConnect = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connErr != nil {
		return f.connErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

func (f *fakeClient) On(event string, handler domain.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = handler
}

func (f *fakeClient) Ping(ctx context.Context) (bool, error) {
	return f.pingOK, f.pingErr
}

func (f *fakeClient) ServerInfo(ctx context.Context) (domain.ServerInfo, error) {
	if hook := f.onServerInfo; hook != nil {
		f.onServerInfo = nil
		hook()
	}
	return f.info, f.infoErr
}

func (f *fakeClient) SendText(ctx context.Context, chatGUID, text string, opts domain.SendOptions) (domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.sendAttempts
	f.sendAttempts++
	if f.sendErr != nil {
		if err := f.sendErr(call, text); err != nil {
			return domain.SendResult{}, err
		}
	}
	f.texts = append(f.texts, sentText{Chat: chatGUID, Text: text, Opts: opts})
	return domain.SendResult{MessageID: "sent-guid"}, nil
}

func (f *fakeClient) SendReaction(ctx context.Context, chatGUID, targetMessageID, reaction string, partIndex int) (domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, sentReaction{Chat: chatGUID, Target: targetMessageID, Reaction: reaction})
	return domain.SendResult{}, nil
}

func (f *fakeClient) DownloadAttachment(ctx context.Context, guid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloaded = append(f.downloaded, guid)
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	return f.downloads[guid], nil
}

func (f *fakeClient) MarkRead(ctx context.Context, chatGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, chatGUID)
	return f.markErr
}

func (f *fakeClient) sent() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.texts...)
}

func (f *fakeClient) emit(ctx context.Context, ev domain.Event) {
	f.mu.Lock()
	h := f.handlers[ev.Name]
	f.mu.Unlock()
	if h != nil {
		h(ctx, ev)
	}
}

type injectCall struct {
	SessionKey string
	Text       string
	Meta       domain.InjectMeta
}

// fakeHost is an in-memory domain.Host.
type fakeHost struct {
	mu sync.Mutex

	cfg       config.BlueBubblesConfig
	reply     string
	injectErr error
	schemaErr error
	onInject  func()

	schemas []string
	logged  []injectCall
	injects []injectCall
}

func newFakeHost(cfg config.BlueBubblesConfig) *fakeHost {
	return &fakeHost{cfg: cfg, reply: "hello back"}
}

func (h *fakeHost) RegisterConfigSchema(ctx context.Context, pluginID string, schema map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schemas = append(h.schemas, pluginID)
	return h.schemaErr
}

func (h *fakeHost) PluginConfig() config.BlueBubblesConfig { return h.cfg }

func (h *fakeHost) Inject(ctx context.Context, sessionKey, text string, meta domain.InjectMeta) (string, error) {
	h.mu.Lock()
	h.injects = append(h.injects, injectCall{sessionKey, text, meta})
	cb := h.onInject
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
	if h.injectErr != nil {
		return "", h.injectErr
	}
	return h.reply, nil
}

func (h *fakeHost) LogMessage(ctx context.Context, sessionKey, text string, meta domain.InjectMeta) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logged = append(h.logged, injectCall{sessionKey, text, meta})
	return nil
}

var errBoom = errors.New("boom")
