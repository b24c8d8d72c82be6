package domain

import "strings"

// AttachmentPlaceholder is the object replacement character BlueBubbles puts
// in the text of attachment-only messages.
const AttachmentPlaceholder = "\ufffc"

// ItemTypeRegular marks a content message; other item types are system events
// (membership changes, renames, group photo updates).
const ItemTypeRegular = 0

// TransferStateFinished is the attachment state once the file is fully on the server.
const TransferStateFinished = 5

// Handle is the sender address of a message.
type Handle struct {
	Address string `json:"address"`
	Service string `json:"service,omitempty"`
	Country string `json:"country,omitempty"`
}

// ChatRef is a conversation reference embedded in message events. The GUID
// has the form "<service>;<sep>;<destination>", e.g. "iMessage;-;+15551234567".
type ChatRef struct {
	GUID        string `json:"guid"`
	DisplayName string `json:"displayName,omitempty"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	GUID          string `json:"guid"`
	TransferName  string `json:"transferName"`
	TotalBytes    int64  `json:"totalBytes"`
	TransferState int    `json:"transferState"`
	MimeType      string `json:"mimeType,omitempty"`
}

// InboundMessage is the message payload of new-message and updated-message events.
type InboundMessage struct {
	GUID                  string       `json:"guid"`
	Text                  string       `json:"text"`
	Handle                *Handle      `json:"handle,omitempty"`
	Chats                 []ChatRef    `json:"chats"`
	AssociatedMessageGUID *string      `json:"associatedMessageGuid"`
	ItemType              int          `json:"itemType"`
	IsFromMe              bool         `json:"isFromMe"`
	Attachments           []Attachment `json:"attachments,omitempty"`
	DateCreated           int64        `json:"dateCreated,omitempty"` // unix millis
}

// SenderAddress returns the raw sender address or "" when absent.
func (m InboundMessage) SenderAddress() string {
	if m.Handle == nil {
		return ""
	}
	return strings.TrimSpace(m.Handle.Address)
}

// PrimaryChat returns the first conversation reference or "" when none.
func (m InboundMessage) PrimaryChat() string {
	if len(m.Chats) == 0 {
		return ""
	}
	return m.Chats[0].GUID
}

// IsAssociated reports whether the message is a tapback/reaction attached to
// an earlier message rather than a new message.
func (m InboundMessage) IsAssociated() bool {
	return m.AssociatedMessageGUID != nil && *m.AssociatedMessageGUID != ""
}

// TypingNotification is the payload of typing-indicator events.
type TypingNotification struct {
	Display bool   `json:"display"`
	GUID    string `json:"guid"` // chat guid
}
