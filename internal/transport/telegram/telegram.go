// Package telegram implements the transport capabilities over the
// Telegram Bot API via telebot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"botforge/internal/transport"
	"botforge/pkg/logx"
)

type Config struct {
	// APITimeout bounds every Bot API round-trip, webhook registration
	// included. Zero means 10s.
	APITimeout time.Duration
}

type Factory struct {
	http *http.Client
	log  logx.Logger
}

func NewFactory(cfg Config, log logx.Logger) *Factory {
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{http: &http.Client{Timeout: timeout}, log: log}
}

// Dial builds a client and verifies the credential with a getMe call.
// An API-side rejection is reported as a transport.Error so callers can
// distinguish a bad credential from local misuse.
func (f *Factory) Dial(ctx context.Context, credential string) (transport.Client, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, errors.New("telegram: empty credential")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  credential,
		Client: f.http,
	})
	if err != nil {
		return nil, &transport.Error{Reason: "credential rejected", Err: err}
	}
	return &client{bot: b, credential: credential, log: f.log}, nil
}

// Open builds a client without any network round-trip. Self() on the
// result is zero until the platform is actually consulted.
func (f *Factory) Open(credential string) (transport.Client, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, errors.New("telegram: empty credential")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   credential,
		Client:  f.http,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &client{bot: b, credential: credential, log: f.log}, nil
}

type client struct {
	bot        *tele.Bot
	credential string
	log        logx.Logger
}

func (c *client) Credential() string { return c.credential }

func (c *client) Self() transport.Identity {
	me := c.bot.Me
	if me == nil {
		return transport.Identity{}
	}
	name := strings.TrimSpace(me.FirstName + " " + me.LastName)
	return transport.Identity{ID: me.ID, Username: me.Username, Name: name}
}

func (c *client) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	return c.Send(ctx, chatID, transport.Content{Kind: transport.ContentText, Text: text}, opt)
}

func (c *client) Send(ctx context.Context, chatID int64, content transport.Content, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var what any
	switch content.Kind {
	case transport.ContentText:
		what = content.Text
	case transport.ContentPhoto:
		what = &tele.Photo{File: tele.File{FileID: content.FileID}, Caption: content.Caption}
	case transport.ContentDocument:
		what = &tele.Document{File: tele.File{FileID: content.FileID}, Caption: content.Caption}
	case transport.ContentVideo:
		what = &tele.Video{File: tele.File{FileID: content.FileID}, Caption: content.Caption}
	case transport.ContentAudio:
		what = &tele.Audio{File: tele.File{FileID: content.FileID}, Caption: content.Caption}
	case transport.ContentVoice:
		what = &tele.Voice{File: tele.File{FileID: content.FileID}}
	case transport.ContentSticker:
		what = &tele.Sticker{File: tele.File{FileID: content.FileID}}
	default:
		return &transport.Error{Reason: "unsupported content kind " + string(content.Kind)}
	}

	sendOpt := &tele.SendOptions{}
	if opt != nil {
		sendOpt.ParseMode = opt.ParseMode
		if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok {
			sendOpt.ReplyMarkup = rm
		}
	}

	if _, err := c.bot.Send(tele.ChatID(chatID), what, sendOpt); err != nil {
		return &transport.Error{Reason: "send failed", Err: err}
	}
	return nil
}

func (c *client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	if err != nil {
		return &transport.Error{Reason: "callback answer failed", Err: err}
	}
	return nil
}

func (c *client) RegisterWebhook(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Raw("setWebhook", map[string]string{"url": url})
	if err != nil {
		return &transport.Error{Reason: "setWebhook failed", Err: err}
	}
	return nil
}

func (c *client) DeregisterWebhook(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Raw("deleteWebhook", map[string]bool{"drop_pending_updates": false})
	if err != nil {
		return &transport.Error{Reason: "deleteWebhook failed", Err: err}
	}
	return nil
}
