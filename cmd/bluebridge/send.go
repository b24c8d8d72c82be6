package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bluebridge/internal/channel"
	"bluebridge/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func sendCmd() *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "send <chatGuid> <text...>",
		Short: "Send a message to a chat (split into chunks like a reply)",
		Example: `  bluebridge send "iMessage;-;+15551234567" "Hello from bluebridge"
  bluebridge send "iMessage;+;chat123456" "Hi all" --reply-to <messageGuid>`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logCloser, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			creds, err := config.ResolveCredentials(cfg.BlueBubbles)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			client := newBlueBubblesClient(creds, cfg.BlueBubbles)
			privateAPI := false
			if info, err := client.ServerInfo(ctx); err != nil {
				logger.Warn("server info unavailable, assuming no private API", "err", err)
			} else {
				privateAPI = info.PrivateAPI
			}

			var limiter *rate.Limiter
			if cfg.BlueBubbles.SendRatePerSecond > 0 {
				limiter = rate.NewLimiter(rate.Limit(cfg.BlueBubbles.SendRatePerSecond), 1)
			}
			deliverer := channel.NewDeliverer(channel.DeliveryConfig{
				Sender:     client,
				ChunkLimit: cfg.BlueBubbles.TextChunkLimit,
				Method:     channel.SendMethodFor(privateAPI),
				Limiter:    limiter,
				Logger:     logger,
			})

			chat := args[0]
			text := strings.Join(args[1:], " ")
			total := len(channel.Chunk(strings.TrimSpace(text), cfg.BlueBubbles.TextChunkLimit, nil))
			sent := deliverer.Deliver(ctx, chat, text, replyTo)
			fmt.Printf("Sent %d/%d chunk(s) to %s\n", sent, total, chat)
			if sent < total {
				return fmt.Errorf("%d chunk(s) failed", total-sent)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "message guid to reply to (first chunk only)")
	return cmd
}
