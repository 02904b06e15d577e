// Package transport defines the platform-neutral messaging types the
// control plane works with, plus the Client/Factory capabilities a
// concrete chat platform adapter must provide.
package transport

import (
	"context"
	"fmt"
)

type Update struct {
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string

	// File references by content kind; at most one is set.
	PhotoID    string
	DocumentID string
	VideoID    string
	AudioID    string
	VoiceID    string
	StickerID  string
	Caption    string
}

type Callback struct {
	ID        string
	ChatID    int64
	FromID    int64
	MessageID int
	Data      string
}

type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPhoto    ContentKind = "photo"
	ContentDocument ContentKind = "document"
	ContentVideo    ContentKind = "video"
	ContentAudio    ContentKind = "audio"
	ContentVoice    ContentKind = "voice"
	ContentSticker  ContentKind = "sticker"
	ContentUnknown  ContentKind = "unknown"
)

// Content is one sendable payload: text, or a file reference with an
// optional caption.
type Content struct {
	Kind    ContentKind
	Text    string
	FileID  string
	Caption string
}

// ContentOf classifies an inbound message into the payload that would
// reproduce it verbatim.
func ContentOf(m *Message) Content {
	switch {
	case m.PhotoID != "":
		return Content{Kind: ContentPhoto, FileID: m.PhotoID, Caption: m.Caption}
	case m.DocumentID != "":
		return Content{Kind: ContentDocument, FileID: m.DocumentID, Caption: m.Caption}
	case m.VideoID != "":
		return Content{Kind: ContentVideo, FileID: m.VideoID, Caption: m.Caption}
	case m.AudioID != "":
		return Content{Kind: ContentAudio, FileID: m.AudioID, Caption: m.Caption}
	case m.VoiceID != "":
		return Content{Kind: ContentVoice, FileID: m.VoiceID}
	case m.StickerID != "":
		return Content{Kind: ContentSticker, FileID: m.StickerID}
	case m.Text != "":
		return Content{Kind: ContentText, Text: m.Text}
	default:
		return Content{Kind: ContentUnknown}
	}
}

type SendOptions struct {
	ParseMode string
	// ReplyMarkup is adapter-specific markup (Telegram: *telebot.ReplyMarkup).
	ReplyMarkup any
}

type Identity struct {
	ID       int64
	Username string
	Name     string
}

// Client is a messaging client bound to one credential.
type Client interface {
	Credential() string
	Self() Identity

	Send(ctx context.Context, chatID int64, c Content, opt *SendOptions) error
	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error

	RegisterWebhook(ctx context.Context, url string) error
	DeregisterWebhook(ctx context.Context) error
}

// Factory constructs per-credential clients.
//
// Dial verifies the credential against the platform (and so populates
// Self); Open constructs a client without any network round-trip, for
// credentials already known to be valid.
type Factory interface {
	Dial(ctx context.Context, credential string) (Client, error)
	Open(credential string) (Client, error)
}

// Error wraps a platform-side send/receive failure.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
	}
	return "transport: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }
