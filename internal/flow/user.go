package flow

import (
	"context"
	"strings"

	"botforge/internal/broadcast"
	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/pkg/logx"
)

// handleUser runs the end-user machine: none → [awaiting join] →
// joined, then verbatim echo by content kind.
func (h *Handler) handleUser(ctx context.Context, client transport.Client, ten store.Tenant, bu store.BotUser, m *transport.Message) error {
	if strings.HasPrefix(m.Text, "/start") {
		if bu.HasJoined {
			h.reply(ctx, client, m.ChatID, msgWelcome, nil)
			return nil
		}
		h.sendJoinGate(ctx, client, ten.Credential, m.ChatID)
		return nil
	}

	if !bu.HasJoined {
		h.sendJoinGate(ctx, client, ten.Credential, m.ChatID)
		return nil
	}

	content := transport.ContentOf(m)
	if content.Kind == transport.ContentUnknown {
		h.reply(ctx, client, m.ChatID, broadcast.MsgUnsupported, nil)
		return nil
	}
	if err := client.Send(ctx, m.ChatID, content, nil); err != nil {
		h.log.Warn("echo failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
	return nil
}

func (h *Handler) sendJoinGate(ctx context.Context, client transport.Client, credential string, chatID int64) {
	gate := h.gateURL(ctx, credential)
	h.reply(ctx, client, chatID, msgJoinGate, &transport.SendOptions{ReplyMarkup: joinGateKeyboard(gate)})
}

// handleCallback currently knows one action: the join acknowledgment.
// The gate is trust-based, so the flag is set unconditionally.
func (h *Handler) handleCallback(ctx context.Context, client transport.Client, ten store.Tenant, bu store.BotUser, cb *transport.Callback) error {
	if cb.Data != joinAckData {
		// Unknown callback: acknowledge so the client spinner stops,
		// no reply, no transition.
		_ = client.AnswerCallback(ctx, cb.ID, "")
		return nil
	}
	if err := h.store.SetBotUserJoined(ctx, ten.Credential, bu.UserID, true); err != nil {
		return err
	}
	_ = client.AnswerCallback(ctx, cb.ID, msgJoinAck)
	if cb.ChatID != 0 {
		h.reply(ctx, client, cb.ChatID, msgWelcome, nil)
	}
	return nil
}
