package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"botforge/internal/state"
	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/pkg/logx"
)

// handleOwner runs the tenant-owner panel machine. It returns
// handled=false only when the owner is outside the panel and the text
// is not the panel entry, so the event falls through to the end-user
// machine.
func (h *Handler) handleOwner(ctx context.Context, client transport.Client, ten store.Tenant, bu store.BotUser, m *transport.Message) (bool, error) {
	opts := &transport.SendOptions{ReplyMarkup: panelKeyboard()}

	switch bu.Flow {
	case state.FlowNone:
		if m.Text != "/panel" {
			return false, nil
		}
		if err := h.saveState(ctx, bu, bu.Step, state.FlowPanel); err != nil {
			return true, err
		}
		h.reply(ctx, client, m.ChatID, msgPanel, opts)
		return true, nil

	case state.FlowPanel:
		switch m.Text {
		case LabelStats:
			joined, err := h.store.CountJoined(ctx, ten.Credential)
			if err != nil {
				return true, err
			}
			age := time.Since(ten.CreatedAt) / (24 * time.Hour)
			h.reply(ctx, client, m.ChatID,
				fmt.Sprintf("📊 %s\nJoined members: %d\nBot age: %d days", ten.DisplayName, joined, age), opts)
		case LabelBroadcast:
			recipients, err := h.ownerAudience(ctx, ten)
			if err != nil {
				return true, err
			}
			if len(recipients) == 0 {
				h.reply(ctx, client, m.ChatID, msgBroadcastEmpty, opts)
				return true, nil
			}
			if err := h.saveState(ctx, bu, bu.Step, state.FlowAwaitingBroadcast); err != nil {
				return true, err
			}
			h.reply(ctx, client, m.ChatID, msgBroadcastPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
		case LabelChannel:
			if err := h.saveState(ctx, bu, bu.Step, state.FlowAwaitingChannel); err != nil {
				return true, err
			}
			h.reply(ctx, client, m.ChatID, msgChannelPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
		case LabelBlock:
			if err := h.saveState(ctx, bu, bu.Step, state.FlowAwaitingBlock); err != nil {
				return true, err
			}
			h.reply(ctx, client, m.ChatID, msgBlockPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
		case LabelUnlock:
			if err := h.saveState(ctx, bu, bu.Step, state.FlowAwaitingUnlock); err != nil {
				return true, err
			}
			h.reply(ctx, client, m.ChatID, msgUnlockPrompt, &transport.SendOptions{ReplyMarkup: cancelKeyboard()})
		case LabelBack:
			if err := h.saveState(ctx, bu, bu.Step, state.FlowNone); err != nil {
				return true, err
			}
			h.reply(ctx, client, m.ChatID, msgPanelGone, &transport.SendOptions{ReplyMarkup: removeKeyboard()})
		default:
			// Unknown label: deliberate silent ignore.
		}
		return true, nil

	case state.FlowAwaitingBroadcast:
		if m.Text == LabelCancel {
			return true, h.backToPanel(ctx, client, bu, m.ChatID)
		}
		return true, h.startBroadcast(ctx, client, ten, bu, m)

	case state.FlowAwaitingChannel:
		if m.Text == LabelCancel {
			return true, h.backToPanel(ctx, client, bu, m.ChatID)
		}
		url, err := NormalizeChannelURL(m.Text)
		if err != nil {
			h.reply(ctx, client, m.ChatID, msgChannelInvalid, nil)
			return true, nil
		}
		if err := h.store.UpsertChannelGate(ctx, ten.Credential, url); err != nil {
			return true, err
		}
		if err := h.saveState(ctx, bu, bu.Step, state.FlowPanel); err != nil {
			return true, err
		}
		h.reply(ctx, client, m.ChatID, msgChannelSaved, opts)
		return true, nil

	case state.FlowAwaitingBlock, state.FlowAwaitingUnlock:
		if m.Text == LabelCancel {
			return true, h.backToPanel(ctx, client, bu, m.ChatID)
		}
		return true, h.setMemberBlocked(ctx, client, ten, bu, m, bu.Flow == state.FlowAwaitingBlock)
	}

	// Unknown stored flow value: claim nothing, fall back to user flow.
	return false, nil
}

func (h *Handler) backToPanel(ctx context.Context, client transport.Client, bu store.BotUser, chatID int64) error {
	if err := h.saveState(ctx, bu, bu.Step, state.FlowPanel); err != nil {
		return err
	}
	h.reply(ctx, client, chatID, msgPanel, &transport.SendOptions{ReplyMarkup: panelKeyboard()})
	return nil
}

func (h *Handler) ownerAudience(ctx context.Context, ten store.Tenant) ([]int64, error) {
	recipients, err := h.store.Recipients(ctx, ten.Credential)
	if err != nil {
		return nil, err
	}
	out := recipients[:0]
	for _, r := range recipients {
		if r != ten.OwnerID {
			out = append(out, r)
		}
	}
	return out, nil
}

// startBroadcast acknowledges immediately and runs the paced fan-out in
// the background; the triggering event must not block on it.
func (h *Handler) startBroadcast(ctx context.Context, client transport.Client, ten store.Tenant, bu store.BotUser, m *transport.Message) error {
	content := transport.ContentOf(m)
	recipients, err := h.ownerAudience(ctx, ten)
	if err != nil {
		return err
	}
	if err := h.saveState(ctx, bu, bu.Step, state.FlowPanel); err != nil {
		return err
	}
	h.reply(ctx, client, m.ChatID, msgBroadcastStarted, &transport.SendOptions{ReplyMarkup: panelKeyboard()})

	bg := context.WithoutCancel(ctx)
	go func() {
		ok, failed := h.engine.ToSet(bg, client, content, recipients, ten.OwnerID)
		if err := h.store.AppendAudit(bg, store.AuditEntry{
			ActorID: bu.UserID, Action: "broadcast.tenant", Target: ten.DisplayName, OK: ok, Fail: failed,
		}); err != nil {
			h.log.Warn("audit append failed", logx.Err(err))
		}
		h.reply(bg, client, m.ChatID,
			fmt.Sprintf("📣 Broadcast done: %d delivered, %d failed.", ok, failed), nil)
	}()
	return nil
}

func (h *Handler) setMemberBlocked(ctx context.Context, client transport.Client, ten store.Tenant, bu store.BotUser, m *transport.Message, blocked bool) error {
	target, err := strconv.ParseInt(m.Text, 10, 64)
	if err != nil {
		h.reply(ctx, client, m.ChatID, msgNotNumeric, nil)
		return nil
	}
	if blocked && target == ten.OwnerID {
		h.reply(ctx, client, m.ChatID, msgSelfBlock, nil)
		return nil
	}
	err = h.store.SetBotUserBlocked(ctx, ten.Credential, target, blocked)
	if errors.Is(err, store.ErrNotFound) {
		h.reply(ctx, client, m.ChatID, msgNoSuchMember, nil)
		return nil
	}
	if err != nil {
		return err
	}
	if err := h.saveState(ctx, bu, bu.Step, state.FlowPanel); err != nil {
		return err
	}
	done := msgBlockDone
	if !blocked {
		done = msgUnlockDone
	}
	h.reply(ctx, client, m.ChatID, done, &transport.SendOptions{ReplyMarkup: panelKeyboard()})
	return nil
}
