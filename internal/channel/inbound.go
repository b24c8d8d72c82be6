package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bluebridge/internal/config"
	"bluebridge/internal/domain"
	"bluebridge/internal/metrics"
)

var (
	ErrDownloadFailed = errors.New("attachment download failed")
	ErrEmptyDownload  = errors.New("attachment download returned no data")
)

// AttachmentApology is sent instead of a reply when an attachment that
// passed the size and transfer checks cannot be fetched.
const AttachmentApology = "Sorry, I couldn't download the attachment %q. Please try sending it again."

// OutcomeKind classifies what the pipeline should do with a message.
type OutcomeKind int

const (
	Ignored OutcomeKind = iota
	Blocked
	Actionable
	AttachmentFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case Blocked:
		return "blocked"
	case Actionable:
		return "actionable"
	case AttachmentFailed:
		return "attachment_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of processing one inbound message.
type Outcome struct {
	Kind    OutcomeKind
	Reason  string
	Text    string
	Chat    string
	Sender  string
	IsGroup bool

	// Attachment is the name of the attachment that failed to download.
	Attachment string
	Err        error

	// Media holds the attachments downloaded for an Actionable outcome.
	Media []domain.Media
}

// Apology renders the user-facing message for an AttachmentFailed outcome.
func (o Outcome) Apology() string {
	return fmt.Sprintf(AttachmentApology, o.Attachment)
}

// Admitter decides whether a sender may trigger processing.
type Admitter interface {
	IsAllowed(sender string, isGroup bool) bool
}

// Downloader fetches attachment bytes.
type Downloader interface {
	DownloadAttachment(ctx context.Context, attachmentGUID string) ([]byte, error)
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Policy      Admitter
	Downloader  Downloader
	Attachments bool
	MaxBytes    int64 // 0 = config.DefaultMediaMaxMB
	Logger      *slog.Logger
}

// Processor filters inbound events down to actionable messages and enriches
// their text with attachment markers.
type Processor struct {
	policy      Admitter
	downloader  Downloader
	attachments bool
	maxBytes    int64
	logger      *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = int64(config.DefaultMediaMaxMB) * 1024 * 1024
	}
	return &Processor{
		policy:      cfg.Policy,
		downloader:  cfg.Downloader,
		attachments: cfg.Attachments,
		maxBytes:    maxBytes,
		logger:      cfg.Logger,
	}
}

// ignoreReason returns why msg is not an actionable new message, or "".
func ignoreReason(msg domain.InboundMessage) string {
	switch {
	case msg.IsFromMe:
		return "from me"
	case msg.ItemType != domain.ItemTypeRegular:
		return fmt.Sprintf("item type %d", msg.ItemType)
	case msg.IsAssociated():
		return "associated message"
	case msg.PrimaryChat() == "":
		return "no chat"
	case msg.SenderAddress() == "":
		return "no sender"
	}
	return ""
}

// Process classifies msg. It never returns an error; download failures are
// reported as an AttachmentFailed outcome.
func (p *Processor) Process(ctx context.Context, msg domain.InboundMessage) Outcome {
	if reason := ignoreReason(msg); reason != "" {
		return Outcome{Kind: Ignored, Reason: reason}
	}

	chat := msg.PrimaryChat()
	sender := msg.SenderAddress()
	isGroup := IsGroup(chat)
	base := Outcome{Chat: chat, Sender: sender, IsGroup: isGroup}

	if !p.policy.IsAllowed(sender, isGroup) {
		base.Kind = Blocked
		base.Reason = "sender not allowed"
		return base
	}

	text := strings.ReplaceAll(msg.Text, domain.AttachmentPlaceholder, "")

	if len(msg.Attachments) > 0 && p.attachments {
		var failed bool
		text, failed = p.enrich(ctx, msg, text, &base)
		if failed {
			base.Kind = AttachmentFailed
			return base
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		base.Kind = Ignored
		base.Reason = "empty text"
		return base
	}

	base.Kind = Actionable
	base.Text = text
	return base
}

// enrich downloads eligible attachments and appends a marker for each.
// It reports failed=true on the first download that errors or is empty.
func (p *Processor) enrich(ctx context.Context, msg domain.InboundMessage, text string, out *Outcome) (string, bool) {
	for _, att := range msg.Attachments {
		if att.TransferState != domain.TransferStateFinished {
			p.logger.Warn("skipping attachment: transfer not finished",
				"message", msg.GUID, "attachment", att.TransferName, "state", att.TransferState)
			continue
		}
		if att.TotalBytes > p.maxBytes {
			p.logger.Warn("skipping attachment: too large",
				"message", msg.GUID, "attachment", att.TransferName,
				"bytes", att.TotalBytes, "max_bytes", p.maxBytes)
			continue
		}

		data, err := p.downloader.DownloadAttachment(ctx, att.GUID)
		if err != nil {
			out.Attachment = att.TransferName
			out.Err = fmt.Errorf("%w: %s: %w", ErrDownloadFailed, att.TransferName, err)
			return text, true
		}
		if len(data) == 0 {
			out.Attachment = att.TransferName
			out.Err = fmt.Errorf("%w: %s", ErrEmptyDownload, att.TransferName)
			return text, true
		}

		metrics.AttachmentDownloads.Inc()
		out.Media = append(out.Media, domain.Media{
			Name:     att.TransferName,
			MimeType: att.MimeType,
			Data:     data,
		})
		marker := "[attachment: " + att.TransferName + "]"
		if strings.TrimSpace(text) == "" {
			text = marker
		} else {
			text = strings.TrimRight(text, " ") + " " + marker
		}
	}
	return text, false
}
