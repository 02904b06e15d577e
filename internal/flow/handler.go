// Package flow implements the three conversation state machines: the
// end-user flow on a tenant bot, the tenant-owner panel, and the
// platform-owner panel on the controlling bot. All state lives in the
// store; handlers are stateless between events.
package flow

import (
	"context"
	"errors"

	"botforge/internal/broadcast"
	"botforge/internal/state"
	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/pkg/logx"
)

// Handler runs the per-tenant machines (end user + tenant owner).
type Handler struct {
	store       *store.Store
	engine      *broadcast.Engine
	defaultGate string
	log         logx.Logger
}

func NewHandler(st *store.Store, engine *broadcast.Engine, defaultGate string, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{store: st, engine: engine, defaultGate: defaultGate, log: log}
}

// Handle interprets one inbound event against the member's persisted
// state. The owner machine gets first refusal; anything it does not
// claim falls through to the end-user machine, so an owner still gets
// the normal join-gate/echo behavior outside the panel.
func (h *Handler) Handle(ctx context.Context, client transport.Client, ten store.Tenant, bu store.BotUser, up transport.Update) error {
	if cb := up.Callback; cb != nil {
		return h.handleCallback(ctx, client, ten, bu, cb)
	}
	m := up.Message
	if m == nil {
		return nil
	}
	if bu.UserID == ten.OwnerID {
		handled, err := h.handleOwner(ctx, client, ten, bu, m)
		if handled {
			return err
		}
	}
	return h.handleUser(ctx, client, ten, bu, m)
}

func (h *Handler) gateURL(ctx context.Context, credential string) string {
	url, err := h.store.ChannelGate(ctx, credential)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Warn("channel gate load failed", logx.Err(err))
		}
		return h.defaultGate
	}
	return url
}

// reply sends a single chat response; a transport failure must never
// crash the dispatch path, so it is logged and swallowed.
func (h *Handler) reply(ctx context.Context, client transport.Client, chatID int64, text string, opt *transport.SendOptions) {
	if err := client.SendText(ctx, chatID, text, opt); err != nil {
		h.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (h *Handler) saveState(ctx context.Context, bu store.BotUser, step state.Step, flow state.Flow) error {
	return h.store.SaveBotUserState(ctx, bu.TenantCredential, bu.UserID, step, flow)
}
