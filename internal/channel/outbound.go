package channel

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"bluebridge/internal/domain"
	"bluebridge/internal/metrics"
)

// TextSender is the slice of domain.Client the delivery path needs.
type TextSender interface {
	SendText(ctx context.Context, chatGUID, text string, opts domain.SendOptions) (domain.SendResult, error)
}

// DeliveryConfig configures a Deliverer.
type DeliveryConfig struct {
	Sender     TextSender
	ChunkLimit int       // 0 = MaxChunkLength
	Segmenter  Segmenter // nil = SplitSentences
	Method     string    // domain.SendMethod*
	Limiter    *rate.Limiter
	Logger     *slog.Logger
}

// Deliverer sends a reply as a sequence of chunks, strictly in order.
type Deliverer struct {
	sender  TextSender
	limit   int
	seg     Segmenter
	method  string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(cfg DeliveryConfig) *Deliverer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	method := cfg.Method
	if method == "" {
		method = domain.SendMethodAppleScript
	}
	return &Deliverer{
		sender:  cfg.Sender,
		limit:   cfg.ChunkLimit,
		seg:     cfg.Segmenter,
		method:  method,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}
}

// SendMethodFor picks the send method for the server's capability.
func SendMethodFor(privateAPI bool) string {
	if privateAPI {
		return domain.SendMethodPrivateAPI
	}
	return domain.SendMethodAppleScript
}

// Deliver sends text to chatGUID and returns how many chunks the server
// accepted. Only the first chunk carries replyTo. A failed chunk is logged
// and the remaining chunks are still sent.
func (d *Deliverer) Deliver(ctx context.Context, chatGUID, text, replyTo string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	chunks := Chunk(text, d.limit, d.seg)
	sent := 0
	for i, chunk := range chunks {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				d.logger.Warn("delivery interrupted",
					"chat", chatGUID, "sent", sent, "remaining", len(chunks)-i, "err", err)
				return sent
			}
		}
		if err := ctx.Err(); err != nil {
			d.logger.Warn("delivery interrupted",
				"chat", chatGUID, "sent", sent, "remaining", len(chunks)-i, "err", err)
			return sent
		}

		opts := domain.SendOptions{Method: d.method}
		if i == 0 {
			opts.ReplyToID = replyTo
		}
		if _, err := d.sender.SendText(ctx, chatGUID, chunk, opts); err != nil {
			metrics.ChunkFailures.Inc()
			d.logger.Warn("chunk send failed",
				"chat", chatGUID, "chunk", i+1, "of", len(chunks), "err", err)
			continue
		}
		metrics.ChunksSent.Inc()
		sent++
	}

	if len(chunks) > 1 {
		d.logger.Debug("reply delivered in chunks", "chat", chatGUID, "chunks", len(chunks), "sent", sent)
	}
	return sent
}
