// Package dispatch resolves every inbound webhook event to a tenant
// and an identity, applies the global gates (block list, first-contact
// notification), and hands off to the right state machine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"botforge/internal/flow"
	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/pkg/logx"
)

var (
	// ErrUnknownTenant maps to 404: no tenant carries the credential.
	ErrUnknownTenant = errors.New("dispatch: unknown tenant")
	// ErrMalformedEvent maps to 400: no chat target or sender identity.
	ErrMalformedEvent = errors.New("dispatch: malformed event")
)

type Router struct {
	store    *store.Store
	factory  transport.Factory
	flows    *flow.Handler
	platform *flow.Platform

	platformCredential string
	platformOwner      int64
	log                logx.Logger
}

func NewRouter(st *store.Store, factory transport.Factory, flows *flow.Handler, platform *flow.Platform, platformCredential string, platformOwner int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		store: st, factory: factory, flows: flows, platform: platform,
		platformCredential: platformCredential, platformOwner: platformOwner, log: log,
	}
}

// HandleTenantEvent processes one event for the tenant identified by
// credential. Router-level errors (unknown tenant, malformed event)
// propagate; everything downstream is handled in-chat.
func (r *Router) HandleTenantEvent(ctx context.Context, credential string, up transport.Update) error {
	ten, err := r.store.Tenant(ctx, credential)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownTenant
	}
	if err != nil {
		return err
	}

	ev, ok := extract(up)
	if !ok {
		return ErrMalformedEvent
	}

	bu, _, err := r.store.EnsureBotUser(ctx, credential, ev.sender, ev.name, ev.referral)
	if err != nil {
		return err
	}

	client, err := r.factory.Open(credential)
	if err != nil {
		return err
	}

	if bu.FirstContact {
		r.notifyFirstContact(ctx, client, ten, bu)
	}
	if err := r.store.TouchBotUser(ctx, credential, ev.sender, time.Now()); err != nil {
		r.log.Warn("touch failed", logx.Int64("user", ev.sender), logx.Err(err))
	}

	if bu.Blocked && ev.sender != ten.OwnerID {
		if err := client.SendText(ctx, ev.chat, flow.MsgBanned, nil); err != nil {
			r.log.Warn("ban notice failed", logx.Int64("chat_id", ev.chat), logx.Err(err))
		}
		return nil
	}

	return r.flows.Handle(ctx, client, ten, bu, up)
}

// HandleControlEvent processes one event for the controlling bot.
func (r *Router) HandleControlEvent(ctx context.Context, up transport.Update) error {
	ev, ok := extract(up)
	if !ok {
		return ErrMalformedEvent
	}

	pu, _, err := r.store.EnsurePlatformUser(ctx, ev.sender, ev.name, ev.referral)
	if err != nil {
		return err
	}

	client, err := r.factory.Open(r.platformCredential)
	if err != nil {
		return err
	}

	if pu.FirstContact {
		r.notifyPlatformFirstContact(ctx, client, pu)
	}
	if err := r.store.TouchPlatformUser(ctx, ev.sender, time.Now()); err != nil {
		r.log.Warn("touch failed", logx.Int64("user", ev.sender), logx.Err(err))
	}

	if pu.Blocked && ev.sender != r.platformOwner {
		if err := client.SendText(ctx, ev.chat, flow.MsgBanned, nil); err != nil {
			r.log.Warn("ban notice failed", logx.Int64("chat_id", ev.chat), logx.Err(err))
		}
		return nil
	}

	return r.platform.Handle(ctx, client, pu, up)
}

// notifyFirstContact tells the tenant owner about a new user, at most
// once per membership. The conditional flag clear is the only guard;
// a transport failure here must not abort the rest of dispatch.
func (r *Router) notifyFirstContact(ctx context.Context, client transport.Client, ten store.Tenant, bu store.BotUser) {
	flipped, err := r.store.ClearBotUserFirstContact(ctx, ten.Credential, bu.UserID)
	if err != nil {
		r.log.Warn("first-contact flag clear failed", logx.Int64("user", bu.UserID), logx.Err(err))
		return
	}
	if !flipped {
		return
	}
	joined, err := r.store.CountJoined(ctx, ten.Credential)
	if err != nil {
		joined = 0
	}
	text := fmt.Sprintf("🎉 New user: %s (%d)\nJoined members so far: %d",
		orAnon(bu.DisplayName), bu.UserID, joined)
	if bu.ReferredBy != "" {
		text += "\nReferred by: " + bu.ReferredBy
	}
	if err := client.SendText(ctx, ten.OwnerID, text, nil); err != nil {
		r.log.Warn("owner notification failed", logx.Int64("owner", ten.OwnerID), logx.Err(err))
	}
}

func (r *Router) notifyPlatformFirstContact(ctx context.Context, client transport.Client, pu store.PlatformUser) {
	flipped, err := r.store.ClearPlatformFirstContact(ctx, pu.UserID)
	if err != nil || !flipped {
		return
	}
	total, err := r.store.CountPlatformUsers(ctx)
	if err != nil {
		total = 0
	}
	text := fmt.Sprintf("🎉 New platform user: %s (%d)\nUsers so far: %d",
		orAnon(pu.DisplayName), pu.UserID, total)
	if err := client.SendText(ctx, r.platformOwner, text, nil); err != nil {
		r.log.Warn("owner notification failed", logx.Err(err))
	}
}

type event struct {
	chat     int64
	sender   int64
	name     string
	referral string
}

// extract pulls the chat target and sender identity out of either
// event shape, plus the referral token from a "/start <token>" payload.
func extract(up transport.Update) (event, bool) {
	if m := up.Message; m != nil {
		if m.ChatID == 0 || m.FromID == 0 {
			return event{}, false
		}
		ev := event{chat: m.ChatID, sender: m.FromID, name: m.FromName}
		if ev.name == "" {
			ev.name = m.FromUsername
		}
		if rest, ok := strings.CutPrefix(m.Text, "/start "); ok {
			ev.referral = strings.TrimSpace(rest)
		}
		return ev, true
	}
	if cb := up.Callback; cb != nil {
		if cb.ChatID == 0 || cb.FromID == 0 {
			return event{}, false
		}
		return event{chat: cb.ChatID, sender: cb.FromID}, true
	}
	return event{}, false
}

func orAnon(name string) string {
	if strings.TrimSpace(name) == "" {
		return "anonymous"
	}
	return name
}
