package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/config"
	"bluebridge/internal/domain"
	"bluebridge/internal/security"
)

func newMsg(text string) domain.InboundMessage {
	return domain.InboundMessage{
		GUID:   "msg-1",
		Text:   text,
		Handle: &domain.Handle{Address: "+15551234567"},
		Chats:  []domain.ChatRef{{GUID: testChat}},
	}
}

func strPtr(s string) *string { return &s }

func newProcessor(fc *fakeClient, cfg config.BlueBubblesConfig) *Processor {
	return NewProcessor(ProcessorConfig{
		Policy:      security.NewPolicy(cfg),
		Downloader:  fc,
		Attachments: cfg.Attachments.Enabled,
		MaxBytes:    cfg.MediaMaxBytes(),
		Logger:      testLogger(),
	})
}

func openCfg() config.BlueBubblesConfig {
	return config.Defaults().BlueBubbles
}

func TestProcess_Actionable(t *testing.T) {
	p := newProcessor(newFakeClient(), openCfg())

	out := p.Process(context.Background(), newMsg("  hello  "))

	assert.Equal(t, Actionable, out.Kind)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, testChat, out.Chat)
	assert.Equal(t, "+15551234567", out.Sender)
	assert.False(t, out.IsGroup)
}

func TestProcess_GroupFlag(t *testing.T) {
	p := newProcessor(newFakeClient(), openCfg())
	msg := newMsg("hi all")
	msg.Chats = []domain.ChatRef{{GUID: "iMessage;+;chat42"}, {GUID: testChat}}

	out := p.Process(context.Background(), msg)
	assert.Equal(t, Actionable, out.Kind)
	assert.True(t, out.IsGroup)
	assert.Equal(t, "iMessage;+;chat42", out.Chat)
}

func TestProcess_Ignored(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.InboundMessage)
	}{
		{"from me", func(m *domain.InboundMessage) { m.IsFromMe = true }},
		{"tapback", func(m *domain.InboundMessage) { m.AssociatedMessageGUID = strPtr("p:0/other") }},
		{"system item", func(m *domain.InboundMessage) { m.ItemType = 1 }},
		{"no chats", func(m *domain.InboundMessage) { m.Chats = nil }},
		{"no handle", func(m *domain.InboundMessage) { m.Handle = nil }},
		{"blank address", func(m *domain.InboundMessage) { m.Handle = &domain.Handle{Address: "  "} }},
		{"empty text", func(m *domain.InboundMessage) { m.Text = "   " }},
		{"placeholder only", func(m *domain.InboundMessage) { m.Text = domain.AttachmentPlaceholder }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeClient()
			p := newProcessor(fc, openCfg())
			msg := newMsg("content that would otherwise be answered")
			tt.mutate(&msg)

			out := p.Process(context.Background(), msg)
			assert.Equal(t, Ignored, out.Kind)
			assert.NotEmpty(t, out.Reason)
		})
	}
}

func TestProcess_EmptyAssociatedGUIDIsNotTapback(t *testing.T) {
	p := newProcessor(newFakeClient(), openCfg())
	msg := newMsg("hi")
	msg.AssociatedMessageGUID = strPtr("")
	assert.Equal(t, Actionable, p.Process(context.Background(), msg).Kind)
}

func TestProcess_Blocked(t *testing.T) {
	cfg := openCfg()
	cfg.DMPolicy = config.PolicyAllowlist
	cfg.AllowFrom = config.FlexStringList{"+15550000000"}
	fc := newFakeClient()
	p := newProcessor(fc, cfg)

	msg := newMsg("hi")
	msg.Attachments = []domain.Attachment{{GUID: "a1", TransferName: "a.jpg", TotalBytes: 10, TransferState: 5}}
	out := p.Process(context.Background(), msg)

	assert.Equal(t, Blocked, out.Kind)
	assert.Empty(t, fc.downloaded, "blocked senders must not trigger downloads")
}

func TestProcess_AttachmentDownloaded(t *testing.T) {
	fc := newFakeClient()
	fc.downloads["att-1"] = []byte("jpegdata")
	p := newProcessor(fc, openCfg())

	msg := newMsg(domain.AttachmentPlaceholder)
	msg.Attachments = []domain.Attachment{{
		GUID: "att-1", TransferName: "photo.jpg", TotalBytes: 100 * 1024, TransferState: 5, MimeType: "image/jpeg",
	}}
	out := p.Process(context.Background(), msg)

	require.Equal(t, Actionable, out.Kind)
	assert.Equal(t, "[attachment: photo.jpg]", out.Text)
	require.Len(t, out.Media, 1)
	assert.Equal(t, []byte("jpegdata"), out.Media[0].Data)
	assert.Equal(t, "image/jpeg", out.Media[0].MimeType)
}

func TestProcess_AttachmentAppendedAfterText(t *testing.T) {
	fc := newFakeClient()
	fc.downloads["a"] = []byte{1}
	fc.downloads["b"] = []byte{2}
	p := newProcessor(fc, openCfg())

	msg := newMsg("look" + domain.AttachmentPlaceholder)
	msg.Attachments = []domain.Attachment{
		{GUID: "a", TransferName: "one.png", TotalBytes: 1, TransferState: 5},
		{GUID: "b", TransferName: "two.png", TotalBytes: 1, TransferState: 5},
	}
	out := p.Process(context.Background(), msg)
	assert.Equal(t, "look [attachment: one.png] [attachment: two.png]", out.Text)
}

func TestProcess_AttachmentSkipped(t *testing.T) {
	tests := []struct {
		name string
		att  domain.Attachment
	}{
		{"too large", domain.Attachment{GUID: "big", TransferName: "big.mov", TotalBytes: 9 * 1024 * 1024, TransferState: 5}},
		{"not transferred", domain.Attachment{GUID: "slow", TransferName: "slow.jpg", TotalBytes: 10, TransferState: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeClient()
			p := newProcessor(fc, openCfg())
			msg := newMsg("caption")
			msg.Attachments = []domain.Attachment{tt.att}

			out := p.Process(context.Background(), msg)
			assert.Equal(t, Actionable, out.Kind)
			assert.Equal(t, "caption", out.Text)
			assert.Empty(t, fc.downloaded)
		})
	}
}

func TestProcess_SkippedAttachmentOnlyMessageIsIgnored(t *testing.T) {
	fc := newFakeClient()
	p := newProcessor(fc, openCfg())
	msg := newMsg(domain.AttachmentPlaceholder)
	msg.Attachments = []domain.Attachment{{GUID: "x", TransferName: "x.mov", TotalBytes: 1 << 30, TransferState: 5}}

	assert.Equal(t, Ignored, p.Process(context.Background(), msg).Kind)
}

func TestProcess_CustomCeiling(t *testing.T) {
	cfg := openCfg()
	cfg.MediaMaxMB = 1
	fc := newFakeClient()
	fc.downloads["a"] = []byte{1}
	p := newProcessor(fc, cfg)

	msg := newMsg("hi")
	msg.Attachments = []domain.Attachment{{GUID: "a", TransferName: "a.bin", TotalBytes: 1024*1024 + 1, TransferState: 5}}
	assert.Equal(t, "hi", p.Process(context.Background(), msg).Text)

	msg.Attachments[0].TotalBytes = 1024 * 1024
	assert.Equal(t, "hi [attachment: a.bin]", p.Process(context.Background(), msg).Text)
}

func TestProcess_AttachmentsDisabled(t *testing.T) {
	cfg := openCfg()
	cfg.Attachments.Enabled = false
	fc := newFakeClient()
	p := newProcessor(fc, cfg)

	msg := newMsg("hi")
	msg.Attachments = []domain.Attachment{{GUID: "a", TransferName: "a.jpg", TotalBytes: 1, TransferState: 5}}
	out := p.Process(context.Background(), msg)

	assert.Equal(t, "hi", out.Text)
	assert.Empty(t, fc.downloaded)
}

func TestProcess_DownloadFailure(t *testing.T) {
	fc := newFakeClient()
	fc.dlErr = errBoom
	p := newProcessor(fc, openCfg())

	msg := newMsg("hi")
	msg.Attachments = []domain.Attachment{{GUID: "a", TransferName: "a.jpg", TotalBytes: 1, TransferState: 5}}
	out := p.Process(context.Background(), msg)

	assert.Equal(t, AttachmentFailed, out.Kind)
	assert.Equal(t, "a.jpg", out.Attachment)
	assert.True(t, errors.Is(out.Err, ErrDownloadFailed))
	assert.True(t, errors.Is(out.Err, errBoom))
	assert.Contains(t, out.Apology(), "a.jpg")
}

func TestProcess_EmptyDownload(t *testing.T) {
	fc := newFakeClient()
	p := newProcessor(fc, openCfg())

	msg := newMsg("hi")
	msg.Attachments = []domain.Attachment{{GUID: "missing", TransferName: "m.jpg", TotalBytes: 1, TransferState: 5}}
	out := p.Process(context.Background(), msg)

	assert.Equal(t, AttachmentFailed, out.Kind)
	assert.True(t, errors.Is(out.Err, ErrEmptyDownload))
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "ignored", Ignored.String())
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "actionable", Actionable.String())
	assert.Equal(t, "attachment_failed", AttachmentFailed.String())
}
