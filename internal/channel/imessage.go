package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"bluebridge/internal/config"
	"bluebridge/internal/domain"
	"bluebridge/internal/metrics"
	"bluebridge/internal/security"
)

var (
	ErrLivenessCheckFailed = errors.New("bluebubbles server liveness check failed")
	ErrConnection          = errors.New("bluebubbles event stream connection failed")
	ErrAlreadyInitialized  = errors.New("bridge already initialized")
	ErrShutdownDuringInit  = errors.New("bridge shut down during initialization")
)

// State is the lifecycle position of a Bridge.
type State int32

const (
	StateUninitialized State = iota
	StateCredentialsMissing
	StatePinging
	StatePingFailed
	StateCapabilityCheck
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCredentialsMissing:
		return "credentials_missing"
	case StatePinging:
		return "pinging"
	case StatePingFailed:
		return "ping_failed"
	case StateCapabilityCheck:
		return "capability_check"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ClientFactory builds a server client bound to resolved credentials.
type ClientFactory func(creds config.Credentials, cfg config.BlueBubblesConfig) domain.Client

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Host      domain.Host
	NewClient ClientFactory
	Segmenter Segmenter // nil = SplitSentences
	Logger    *slog.Logger
}

// session is everything one successful Init owns.
type session struct {
	client     domain.Client
	policy     *security.Policy
	processor  *Processor
	deliverer  *Deliverer
	privateAPI bool
	cfg        config.BlueBubblesConfig
}

// Bridge wires a BlueBubbles server to the host: it owns the client, the
// inbound pipeline and the delivery path for one server.
type Bridge struct {
	host      domain.Host
	newClient ClientFactory
	seg       Segmenter
	logger    *slog.Logger

	mu   sync.Mutex
	sess *session
	// gen is bumped by every Init and Shutdown; an Init whose generation is
	// stale has lost a race with Shutdown and must not publish its session.
	gen      uint64
	starting bool
	state    atomic.Int32

	// closed makes in-flight handlers return early once Shutdown has begun.
	closed atomic.Bool
}

// NewBridge creates a Bridge. Nothing talks to the network until Init.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		host:      cfg.Host,
		newClient: cfg.NewClient,
		seg:       cfg.Segmenter,
		logger:    cfg.Logger,
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	b.logger.Debug("bridge state", "state", s.String())
}

// PrivateAPI reports whether the connected server has the private API enabled.
func (b *Bridge) PrivateAPI() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess != nil && b.sess.privateAPI
}

// Init registers the config schema, resolves credentials, checks the server
// and connects the event stream. A connection failure leaves the handlers
// registered and returns an error wrapping ErrConnection.
func (b *Bridge) Init(ctx context.Context) error {
	b.mu.Lock()
	if b.sess != nil || b.starting {
		b.mu.Unlock()
		return ErrAlreadyInitialized
	}
	b.gen++
	gen := b.gen
	b.starting = true
	b.closed.Store(false)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.starting = false
		b.mu.Unlock()
	}()

	b.setState(StateUninitialized)

	if err := b.host.RegisterConfigSchema(ctx, config.PluginID, config.Schema()); err != nil {
		b.logger.Warn("config schema registration failed", "plugin", config.PluginID, "err", err)
	}

	cfg := b.host.PluginConfig()
	creds, err := config.ResolveCredentials(cfg)
	if err != nil {
		b.setState(StateCredentialsMissing)
		b.logger.Error("bluebubbles disabled: credentials missing", "err", err)
		return err
	}

	b.setState(StatePinging)
	client := b.newClient(creds, cfg)
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		b.setState(StatePingFailed)
		if err == nil {
			err = errors.New("server answered ping unsuccessfully")
		}
		b.logger.Error("bluebubbles server unreachable", "server", creds.ServerURL, "err", err)
		return fmt.Errorf("%w: %s: %w", ErrLivenessCheckFailed, creds.ServerURL, err)
	}

	b.setState(StateCapabilityCheck)
	privateAPI := false
	if info, err := client.ServerInfo(ctx); err != nil {
		b.logger.Warn("server info unavailable, assuming no private API", "err", err)
	} else {
		privateAPI = info.PrivateAPI
		b.logger.Info("bluebubbles server info",
			"server_version", info.ServerVersion,
			"os_version", info.OSVersion,
			"private_api", info.PrivateAPI,
			"helper_connected", info.HelperConnected)
	}

	s := b.newSession(client, cfg, privateAPI)
	client.On(domain.EventNewMessage, func(ctx context.Context, ev domain.Event) {
		b.handleNewMessage(ctx, s, ev)
	})
	client.On(domain.EventUpdatedMessage, func(ctx context.Context, ev domain.Event) {
		b.handleUpdatedMessage(ev)
	})
	client.On(domain.EventTypingIndicator, func(ctx context.Context, ev domain.Event) {
		b.handleTyping(ev)
	})

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		b.abandon(client)
		return ErrShutdownDuringInit
	}
	b.sess = s
	b.mu.Unlock()

	b.setState(StateConnecting)
	if err := client.Connect(ctx); err != nil {
		if !b.current(gen) {
			b.setState(StateUninitialized)
			return ErrShutdownDuringInit
		}
		b.logger.Error("bluebubbles connect failed", "server", creds.ServerURL, "err", err)
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	// Shutdown may have taken the session while Connect was dialing. It has
	// already disconnected the client; make sure the dial is torn down too.
	if !b.current(gen) {
		b.abandon(client)
		return ErrShutdownDuringInit
	}

	b.setState(StateConnected)
	b.logger.Info("bluebubbles bridge connected",
		"server", creds.ServerURL,
		"dm_policy", s.policy.Describe(false),
		"group_policy", s.policy.Describe(true),
		"private_api", privateAPI)
	return nil
}

func (b *Bridge) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen
}

// abandon disconnects a client built by an Init that lost to Shutdown.
func (b *Bridge) abandon(client domain.Client) {
	b.logger.Warn("bridge shut down during init, discarding client")
	if err := client.Disconnect(); err != nil {
		b.logger.Warn("bluebubbles disconnect failed", "err", err)
	}
	b.setState(StateUninitialized)
}

func (b *Bridge) newSession(client domain.Client, cfg config.BlueBubblesConfig, privateAPI bool) *session {
	var limiter *rate.Limiter
	if cfg.SendRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), 1)
	}
	policy := security.NewPolicy(cfg)
	return &session{
		client:     client,
		policy:     policy,
		privateAPI: privateAPI,
		cfg:        cfg,
		processor: NewProcessor(ProcessorConfig{
			Policy:      policy,
			Downloader:  client,
			Attachments: cfg.Attachments.Enabled,
			MaxBytes:    cfg.MediaMaxBytes(),
			Logger:      b.logger,
		}),
		deliverer: NewDeliverer(DeliveryConfig{
			Sender:     client,
			ChunkLimit: cfg.TextChunkLimit,
			Segmenter:  b.seg,
			Method:     SendMethodFor(privateAPI),
			Limiter:    limiter,
			Logger:     b.logger,
		}),
	}
}

// Shutdown disconnects the client and drops every reference Init created.
// It is safe to call without a prior Init and safe to call repeatedly.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	b.closed.Store(true)
	b.gen++
	s := b.sess
	b.sess = nil
	b.mu.Unlock()

	if s == nil {
		return
	}

	b.setState(StateShuttingDown)
	if err := s.client.Disconnect(); err != nil {
		b.logger.Warn("bluebubbles disconnect failed", "err", err)
	}
	b.setState(StateUninitialized)
	b.logger.Info("bluebubbles bridge stopped")
}

func (b *Bridge) handleNewMessage(ctx context.Context, s *session, ev domain.Event) {
	if b.closed.Load() || ev.Message == nil {
		return
	}
	msg := *ev.Message

	out := s.processor.Process(ctx, msg)
	metrics.Inbound(out.Kind.String()).Inc()

	switch out.Kind {
	case Ignored:
		b.logger.Debug("inbound message ignored", "message", msg.GUID, "reason", out.Reason)
		return
	case Blocked:
		b.logger.Warn("inbound message blocked by policy",
			"message", msg.GUID, "sender", out.Sender, "group", out.IsGroup,
			"policy", s.policy.Describe(out.IsGroup))
		return
	case AttachmentFailed:
		b.logger.Error("attachment download failed",
			"message", msg.GUID, "attachment", out.Attachment, "err", out.Err)
		if b.closed.Load() {
			return
		}
		s.deliverer.Deliver(ctx, out.Chat, out.Apology(), msg.GUID)
		return
	}

	if s.privateAPI {
		b.acknowledge(ctx, s, out.Chat, msg.GUID)
	}

	key := SessionKey(out.Chat)
	meta := domain.InjectMeta{
		From:    out.Sender,
		Channel: ChannelID(out.IsGroup, out.Chat, out.Sender),
	}
	if err := b.host.LogMessage(ctx, key, out.Text, meta); err != nil {
		b.logger.Warn("host log message failed", "session", key, "err", err)
	}
	meta.Media = out.Media

	start := time.Now()
	reply, err := b.host.Inject(ctx, key, out.Text, meta)
	metrics.InjectLatency.ObserveSince(start)
	if err != nil {
		metrics.InjectFailures.Inc()
		b.logger.Error("host inject failed", "session", key, "message", msg.GUID, "err", err)
		return
	}

	if b.closed.Load() {
		b.logger.Debug("reply dropped: bridge shut down", "session", key)
		return
	}
	s.deliverer.Deliver(ctx, out.Chat, reply, msg.GUID)
}

// acknowledge sends the configured tapback and read receipt. Both are
// best-effort.
func (b *Bridge) acknowledge(ctx context.Context, s *session, chat, messageGUID string) {
	if s.cfg.AckReaction != "" {
		if _, err := s.client.SendReaction(ctx, chat, messageGUID, s.cfg.AckReaction, 0); err != nil {
			b.logger.Warn("ack reaction failed", "chat", chat, "err", err)
		}
	}
	if s.cfg.SendReadReceipts {
		if err := s.client.MarkRead(ctx, chat); err != nil {
			b.logger.Warn("mark read failed", "chat", chat, "err", err)
		}
	}
}

func (b *Bridge) handleUpdatedMessage(ev domain.Event) {
	if b.closed.Load() || ev.Message == nil {
		return
	}
	b.logger.Debug("message updated", "message", ev.Message.GUID)
}

func (b *Bridge) handleTyping(ev domain.Event) {
	if b.closed.Load() || ev.Typing == nil {
		return
	}
	b.logger.Debug("typing indicator", "chat", ev.Typing.GUID, "display", ev.Typing.Display)
}
