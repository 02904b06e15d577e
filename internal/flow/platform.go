package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"botforge/internal/broadcast"
	"botforge/internal/state"
	"botforge/internal/store"
	"botforge/internal/tenant"
	"botforge/internal/transport"
	"botforge/pkg/logx"
)

// Platform runs the controlling-bot machines: the end-user flow that
// creates and manages tenants, and the platform-owner panel.
type Platform struct {
	store   *store.Store
	engine  *broadcast.Engine
	tenants *tenant.Manager
	// credential of the controlling bot; also the channel-gate key for
	// the platform-wide gate.
	credential  string
	ownerID     int64
	defaultGate string
	log         logx.Logger
}

func NewPlatform(st *store.Store, engine *broadcast.Engine, tenants *tenant.Manager, credential string, ownerID int64, defaultGate string, log logx.Logger) *Platform {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Platform{
		store: st, engine: engine, tenants: tenants,
		credential: credential, ownerID: ownerID, defaultGate: defaultGate, log: log,
	}
}

func (p *Platform) Handle(ctx context.Context, client transport.Client, pu store.PlatformUser, up transport.Update) error {
	if cb := up.Callback; cb != nil {
		// The platform bot has no join gate; acknowledge and drop.
		_ = client.AnswerCallback(ctx, cb.ID, "")
		return nil
	}
	m := up.Message
	if m == nil {
		return nil
	}
	if pu.UserID == p.ownerID {
		handled, err := p.handleOwner(ctx, client, pu, m)
		if handled {
			return err
		}
	}
	return p.handleUser(ctx, client, pu, m)
}

// ---- platform end-user flow (tenant self-service) ----

func (p *Platform) handleUser(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message) error {
	opts := &transport.SendOptions{ReplyMarkup: platformUserKeyboard()}

	if strings.HasPrefix(m.Text, "/start") {
		if err := p.saveState(ctx, pu, state.StepNone, pu.Flow); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, p.welcome(ctx), opts)
		return nil
	}

	switch pu.Step {
	case state.StepAwaitingToken:
		if m.Text == LabelCancel {
			return p.resetStep(ctx, client, pu, m.ChatID, msgPlatformHint)
		}
		return p.createTenant(ctx, client, pu, m)

	case state.StepAwaitingDelBot:
		if m.Text == LabelCancel {
			return p.resetStep(ctx, client, pu, m.ChatID, msgPlatformHint)
		}
		return p.deleteOwnTenant(ctx, client, pu, m)
	}

	switch m.Text {
	case LabelNewBot:
		if err := p.saveState(ctx, pu, state.StepAwaitingToken, pu.Flow); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgTokenPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	case LabelMyBots:
		bots, err := p.tenants.ByOwner(ctx, pu.UserID)
		if err != nil {
			return err
		}
		if len(bots) == 0 {
			p.reply(ctx, client, m.ChatID, msgNoBots, opts)
			return nil
		}
		var b strings.Builder
		b.WriteString("📋 Your bots:\n")
		for i, t := range bots {
			fmt.Fprintf(&b, "%d. %s (since %s)\n", i+1, t.DisplayName, t.CreatedAt.Format("2006-01-02"))
		}
		p.reply(ctx, client, m.ChatID, b.String(), opts)
	case LabelDelBot:
		if err := p.saveState(ctx, pu, state.StepAwaitingDelBot, pu.Flow); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgDelBotPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	default:
		p.reply(ctx, client, m.ChatID, msgPlatformHint, opts)
	}
	return nil
}

// createTenant reports every lifecycle error in-chat and returns the
// step to idle either way; only unexpected store errors propagate.
func (p *Platform) createTenant(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message) error {
	opts := &transport.SendOptions{ReplyMarkup: platformUserKeyboard()}
	t, err := p.tenants.Create(ctx, m.Text, pu.UserID, pu.DisplayName)
	if stepErr := p.saveState(ctx, pu, state.StepNone, pu.Flow); stepErr != nil {
		return stepErr
	}
	switch {
	case errors.Is(err, tenant.ErrInvalidCredential):
		p.reply(ctx, client, m.ChatID, msgTokenInvalid, opts)
	case errors.Is(err, tenant.ErrDuplicateCredential):
		p.reply(ctx, client, m.ChatID, msgTokenDuplicate, opts)
	case errors.Is(err, tenant.ErrWebhookRegistration):
		p.reply(ctx, client, m.ChatID, msgHookFailed, opts)
	case err != nil:
		return err
	default:
		p.reply(ctx, client, m.ChatID,
			fmt.Sprintf("🎉 %s is live! Talk to it, and send /panel there to manage it.", t.DisplayName), opts)
	}
	return nil
}

func (p *Platform) deleteOwnTenant(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message) error {
	opts := &transport.SendOptions{ReplyMarkup: platformUserKeyboard()}
	credential := strings.TrimSpace(m.Text)

	t, err := p.store.Tenant(ctx, credential)
	if errors.Is(err, store.ErrNotFound) || (err == nil && t.OwnerID != pu.UserID) {
		if stepErr := p.saveState(ctx, pu, state.StepNone, pu.Flow); stepErr != nil {
			return stepErr
		}
		p.reply(ctx, client, m.ChatID, msgDelBotNotYours, opts)
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.tenants.Delete(ctx, credential); err != nil && !errors.Is(err, tenant.ErrNotFound) {
		return err
	}
	if err := p.saveState(ctx, pu, state.StepNone, pu.Flow); err != nil {
		return err
	}
	p.reply(ctx, client, m.ChatID, msgDelBotDone, opts)
	return nil
}

// ---- platform-owner panel ----

func (p *Platform) handleOwner(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message) (bool, error) {
	opts := &transport.SendOptions{ReplyMarkup: platformPanelKeyboard()}

	if strings.HasPrefix(m.Text, "/wipe") {
		if strings.TrimSpace(m.Text) == "/wipe confirm" {
			if err := p.store.Reset(ctx); err != nil {
				return true, err
			}
			p.log.Warn("platform state wiped", logx.Int64("actor", pu.UserID))
			p.reply(ctx, client, m.ChatID, msgWipeDone, nil)
			return true, nil
		}
		p.reply(ctx, client, m.ChatID, msgWipeHint, nil)
		return true, nil
	}

	switch pu.Flow {
	case state.FlowNone:
		if m.Text != "/admin" {
			return false, nil
		}
		if err := p.saveState(ctx, pu, pu.Step, state.FlowPanel); err != nil {
			return true, err
		}
		p.reply(ctx, client, m.ChatID, msgPanel, opts)
		return true, nil

	case state.FlowPanel:
		return true, p.handlePanel(ctx, client, pu, m)

	case state.FlowAwaitingBroadcast:
		if m.Text == LabelCancel {
			return true, p.backToPanel(ctx, client, pu, m.ChatID)
		}
		return true, p.startPlatformBroadcast(ctx, client, pu, m)

	case state.FlowAwaitingSweep:
		if m.Text == LabelCancel {
			return true, p.backToPanel(ctx, client, pu, m.ChatID)
		}
		return true, p.startSweep(ctx, client, pu, m)

	case state.FlowAwaitingChannel:
		if m.Text == LabelCancel {
			return true, p.backToPanel(ctx, client, pu, m.ChatID)
		}
		url, err := NormalizeChannelURL(m.Text)
		if err != nil {
			p.reply(ctx, client, m.ChatID, msgChannelInvalid, nil)
			return true, nil
		}
		if err := p.store.UpsertChannelGate(ctx, p.credential, url); err != nil {
			return true, err
		}
		if err := p.saveState(ctx, pu, pu.Step, state.FlowPanel); err != nil {
			return true, err
		}
		p.reply(ctx, client, m.ChatID, msgChannelSaved, opts)
		return true, nil

	case state.FlowAwaitingBlock, state.FlowAwaitingUnlock:
		if m.Text == LabelCancel {
			return true, p.backToPanel(ctx, client, pu, m.ChatID)
		}
		return true, p.setPlatformBlocked(ctx, client, pu, m, pu.Flow == state.FlowAwaitingBlock)

	case state.FlowAwaitingRemove:
		if m.Text == LabelCancel {
			return true, p.backToPanel(ctx, client, pu, m.ChatID)
		}
		err := p.tenants.Delete(ctx, strings.TrimSpace(m.Text))
		if errors.Is(err, tenant.ErrNotFound) {
			if stateErr := p.saveState(ctx, pu, pu.Step, state.FlowPanel); stateErr != nil {
				return true, stateErr
			}
			p.reply(ctx, client, m.ChatID, msgRemoveMissing, opts)
			return true, nil
		}
		if err != nil {
			return true, err
		}
		if err := p.saveState(ctx, pu, pu.Step, state.FlowPanel); err != nil {
			return true, err
		}
		p.reply(ctx, client, m.ChatID, msgRemoveDone, opts)
		return true, nil
	}

	return false, nil
}

func (p *Platform) handlePanel(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message) error {
	opts := &transport.SendOptions{ReplyMarkup: platformPanelKeyboard()}

	switch m.Text {
	case LabelStats:
		tenants, _ := p.store.CountTenants(ctx)
		users, _ := p.store.CountPlatformUsers(ctx)
		members, _ := p.store.CountBotUsers(ctx)
		p.reply(ctx, client, m.ChatID,
			fmt.Sprintf("📊 Platform\nTenant bots: %d\nPlatform users: %d\nJoined members: %d", tenants, users, members), opts)
	case LabelBroadcast:
		recipients, err := p.platformAudience(ctx)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			p.reply(ctx, client, m.ChatID, msgBroadcastEmpty, opts)
			return nil
		}
		if err := p.saveState(ctx, pu, pu.Step, state.FlowAwaitingBroadcast); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgBroadcastPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	case LabelSweep:
		if err := p.saveState(ctx, pu, pu.Step, state.FlowAwaitingSweep); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgSweepPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	case LabelRemoveBot:
		if err := p.saveState(ctx, pu, pu.Step, state.FlowAwaitingRemove); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgRemovePrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	case LabelChannel:
		if err := p.saveState(ctx, pu, pu.Step, state.FlowAwaitingChannel); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgChannelPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	case LabelBlock:
		if err := p.saveState(ctx, pu, pu.Step, state.FlowAwaitingBlock); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgBlockPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	case LabelUnlock:
		if err := p.saveState(ctx, pu, pu.Step, state.FlowAwaitingUnlock); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgUnlockPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
	case LabelBack:
		if err := p.saveState(ctx, pu, pu.Step, state.FlowNone); err != nil {
			return err
		}
		p.reply(ctx, client, m.ChatID, msgPanelGone, &transport.SendOptions{ReplyMarkup: removeKeyboard()})
	default:
		// Unknown label: deliberate silent ignore.
	}
	return nil
}

func (p *Platform) startPlatformBroadcast(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message) error {
	content := transport.ContentOf(m)
	recipients, err := p.platformAudience(ctx)
	if err != nil {
		return err
	}
	if err := p.saveState(ctx, pu, pu.Step, state.FlowPanel); err != nil {
		return err
	}
	p.reply(ctx, client, m.ChatID, msgBroadcastStarted, &transport.SendOptions{ReplyMarkup: platformPanelKeyboard()})

	bg := context.WithoutCancel(ctx)
	go func() {
		ok, failed := p.engine.ToSet(bg, client, content, recipients, p.ownerID)
		p.audit(bg, store.AuditEntry{ActorID: pu.UserID, Action: "broadcast.platform", OK: ok, Fail: failed})
		p.reply(bg, client, m.ChatID,
			fmt.Sprintf("📣 Broadcast done: %d delivered, %d failed.", ok, failed), nil)
	}()
	return nil
}

// startSweep fans out across every tenant's audience in descending
// member-count order, pacing between tenants.
func (p *Platform) startSweep(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message) error {
	content := transport.ContentOf(m)
	if err := p.saveState(ctx, pu, pu.Step, state.FlowPanel); err != nil {
		return err
	}
	p.reply(ctx, client, m.ChatID, msgBroadcastStarted, &transport.SendOptions{ReplyMarkup: platformPanelKeyboard()})

	bg := context.WithoutCancel(ctx)
	go func() {
		ok, failed, err := p.engine.AcrossTenants(bg, content, p.ownerID)
		if err != nil {
			p.log.Error("cross-tenant sweep failed", logx.Err(err))
			p.reply(bg, client, m.ChatID, "⚠️ Sweep failed to start.", nil)
			return
		}
		p.audit(bg, store.AuditEntry{ActorID: pu.UserID, Action: "broadcast.sweep", OK: ok, Fail: failed})
		p.reply(bg, client, m.ChatID,
			fmt.Sprintf("📡 Sweep done: %d delivered, %d failed.", ok, failed), nil)
	}()
	return nil
}

func (p *Platform) setPlatformBlocked(ctx context.Context, client transport.Client, pu store.PlatformUser, m *transport.Message, blocked bool) error {
	target, err := strconv.ParseInt(m.Text, 10, 64)
	if err != nil {
		p.reply(ctx, client, m.ChatID, msgNotNumeric, nil)
		return nil
	}
	if blocked && target == p.ownerID {
		p.reply(ctx, client, m.ChatID, msgSelfBlock, nil)
		return nil
	}
	err = p.store.SetPlatformUserBlocked(ctx, target, blocked)
	if errors.Is(err, store.ErrNotFound) {
		p.reply(ctx, client, m.ChatID, msgNoSuchMember, nil)
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.saveState(ctx, pu, pu.Step, state.FlowPanel); err != nil {
		return err
	}
	done := msgBlockDone
	if !blocked {
		done = msgUnlockDone
	}
	p.reply(ctx, client, m.ChatID, done, &transport.SendOptions{ReplyMarkup: platformPanelKeyboard()})
	return nil
}

// ---- helpers ----

func (p *Platform) platformAudience(ctx context.Context) ([]int64, error) {
	recipients, err := p.store.PlatformRecipients(ctx)
	if err != nil {
		return nil, err
	}
	out := recipients[:0]
	for _, r := range recipients {
		if r != p.ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Platform) welcome(ctx context.Context) string {
	gate := p.defaultGate
	if url, err := p.store.ChannelGate(ctx, p.credential); err == nil {
		gate = url
	}
	if gate == "" {
		return "👋 Welcome! " + msgPlatformHint
	}
	return "👋 Welcome! News and updates: " + gate + "\n" + msgPlatformHint
}

func (p *Platform) backToPanel(ctx context.Context, client transport.Client, pu store.PlatformUser, chatID int64) error {
	if err := p.saveState(ctx, pu, pu.Step, state.FlowPanel); err != nil {
		return err
	}
	p.reply(ctx, client, chatID, msgPanel, &transport.SendOptions{ReplyMarkup: platformPanelKeyboard()})
	return nil
}

func (p *Platform) resetStep(ctx context.Context, client transport.Client, pu store.PlatformUser, chatID int64, text string) error {
	if err := p.saveState(ctx, pu, state.StepNone, pu.Flow); err != nil {
		return err
	}
	p.reply(ctx, client, chatID, text, &transport.SendOptions{ReplyMarkup: platformUserKeyboard()})
	return nil
}

func (p *Platform) saveState(ctx context.Context, pu store.PlatformUser, step state.Step, flow state.Flow) error {
	return p.store.SavePlatformUserState(ctx, pu.UserID, step, flow)
}

func (p *Platform) reply(ctx context.Context, client transport.Client, chatID int64, text string, opt *transport.SendOptions) {
	if err := client.SendText(ctx, chatID, text, opt); err != nil {
		p.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (p *Platform) audit(ctx context.Context, e store.AuditEntry) {
	if err := p.store.AppendAudit(ctx, e); err != nil {
		p.log.Warn("audit append failed", logx.Err(err))
	}
}
