// Package transporttest provides in-memory transport fakes for tests.
package transporttest

import (
	"context"
	"sync"

	"botforge/internal/transport"
)

// Sent records one outbound delivery.
type Sent struct {
	ChatID  int64
	Content transport.Content
	Opt     *transport.SendOptions
}

// Client is a transport.Client that records every call. FailChats
// makes sends to those chat ids fail with a transport.Error.
type Client struct {
	mu sync.Mutex

	Cred     string
	Identity transport.Identity

	FailChats     map[int64]bool
	RegisterErr   error
	DeregisterErr error

	Sends        []Sent
	Registered   []string
	Deregistered int
	Answered     []string
}

func (c *Client) Credential() string       { return c.Cred }
func (c *Client) Self() transport.Identity { return c.Identity }

func (c *Client) Send(ctx context.Context, chatID int64, content transport.Content, opt *transport.SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailChats[chatID] {
		return &transport.Error{Reason: "blocked by test"}
	}
	c.Sends = append(c.Sends, Sent{ChatID: chatID, Content: content, Opt: opt})
	return nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	return c.Send(ctx, chatID, transport.Content{Kind: transport.ContentText, Text: text}, opt)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Answered = append(c.Answered, callbackID)
	return nil
}

func (c *Client) RegisterWebhook(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RegisterErr != nil {
		return c.RegisterErr
	}
	c.Registered = append(c.Registered, url)
	return nil
}

func (c *Client) DeregisterWebhook(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deregistered++
	return c.DeregisterErr
}

// SentTo returns the deliveries addressed to one chat.
func (c *Client) SentTo(chatID int64) []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Sent
	for _, s := range c.Sends {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) SendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sends)
}

// Factory hands out one Client per credential, created on demand.
// DialErrs simulates credential rejection.
type Factory struct {
	mu       sync.Mutex
	clients  map[string]*Client
	DialErrs map[string]error
}

func NewFactory() *Factory {
	return &Factory{clients: map[string]*Client{}}
}

func (f *Factory) Dial(ctx context.Context, credential string) (transport.Client, error) {
	f.mu.Lock()
	if err := f.DialErrs[credential]; err != nil {
		f.mu.Unlock()
		return nil, &transport.Error{Reason: "credential rejected", Err: err}
	}
	f.mu.Unlock()
	return f.Client(credential), nil
}

func (f *Factory) Open(credential string) (transport.Client, error) {
	return f.Client(credential), nil
}

// Client returns (creating if needed) the fake bound to a credential.
func (f *Factory) Client(credential string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[credential]
	if !ok {
		c = &Client{Cred: credential, Identity: transport.Identity{ID: 42, Username: "testbot"}}
		f.clients[credential] = c
	}
	return c
}
