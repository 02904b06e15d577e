package flow

import (
	tele "gopkg.in/telebot.v4"
)

// Reply-keyboard labels. Matching is exact; unknown labels are ignored
// so new buttons can ship without breaking older state rows.
const (
	LabelStats     = "📊 Statistics"
	LabelBroadcast = "📣 Broadcast"
	LabelChannel   = "🔗 Set Channel URL"
	LabelBlock     = "🚫 Block"
	LabelUnlock    = "🔓 Unlock"
	LabelBack      = "🔙 Back"
	LabelCancel    = "❌ Cancel"

	LabelSweep     = "📡 Broadcast Sub"
	LabelRemoveBot = "🗑 Remove Bot"

	LabelNewBot = "🤖 New Bot"
	LabelMyBots = "📋 My Bots"
	LabelDelBot = "🗑 Delete Bot"
)

const joinAckData = "join_ack"

// MsgBanned is the fixed rejection notice the dispatcher sends to
// blocked identities.
const MsgBanned = "⛔ You are banned from this bot."

const (
	msgJoinGate  = "👋 To use this bot, join our channel first, then press the button below."
	msgJoinAck   = "✅ Thanks! You are all set."
	msgWelcome   = "✅ You have joined. Send me anything and I will echo it back."
	msgPanel     = "🛠 Admin panel. Pick an action."
	msgPanelGone = "🔙 Panel closed."

	msgBroadcastPrompt  = "📣 Send the message to broadcast, or cancel."
	msgBroadcastEmpty   = "ℹ️ There is nobody to broadcast to yet."
	msgBroadcastStarted = "📤 Broadcast started. You will get a summary when it finishes."

	msgChannelPrompt  = "🔗 Send the channel URL (e.g. t.me/mychannel)."
	msgChannelInvalid = "⚠️ That does not look like a channel URL. Try again or cancel."
	msgChannelSaved   = "✅ Channel URL saved."

	msgBlockPrompt   = "🚫 Send the numeric user ID to block."
	msgUnlockPrompt  = "🔓 Send the numeric user ID to unblock."
	msgNotNumeric    = "⚠️ That is not a numeric user ID. Try again or cancel."
	msgSelfBlock     = "⚠️ You cannot block yourself."
	msgNoSuchMember  = "⚠️ No member with that ID. Try again or cancel."
	msgBlockDone     = "✅ User blocked."
	msgUnlockDone    = "✅ User unblocked."

	msgTokenPrompt    = "🤖 Send me the bot token from @BotFather."
	msgTokenInvalid   = "⚠️ The platform rejected that token. Check it and start over."
	msgTokenDuplicate = "⚠️ A bot with that token already exists."
	msgHookFailed     = "⚠️ Could not register the webhook for that bot. Start over."

	msgDelBotPrompt   = "🗑 Send the token of the bot to delete."
	msgDelBotNotYours = "⚠️ No bot of yours matches that token."
	msgDelBotDone     = "✅ Bot deleted, all of its data removed."

	msgRemovePrompt   = "🗑 Send the credential of the tenant bot to remove."
	msgRemoveMissing  = "⚠️ No tenant with that credential."
	msgRemoveDone     = "✅ Tenant removed."

	msgSweepPrompt = "📡 Send the message to broadcast across all tenant bots, or cancel."

	msgWipeHint = "⚠️ This wipes every tenant, member and gate. Send \"/wipe confirm\" to proceed."
	msgWipeDone = "🧹 All state cleared."

	msgPlatformHint = "Use the buttons below to create and manage your bots."
	msgNoBots       = "ℹ️ You have no bots yet."
)

func panelKeyboard() *tele.ReplyMarkup {
	return replyKeyboard([][]string{
		{LabelStats, LabelBroadcast},
		{LabelChannel},
		{LabelBlock, LabelUnlock},
		{LabelBack},
	})
}

func platformPanelKeyboard() *tele.ReplyMarkup {
	return replyKeyboard([][]string{
		{LabelStats, LabelBroadcast},
		{LabelSweep, LabelRemoveBot},
		{LabelChannel},
		{LabelBlock, LabelUnlock},
		{LabelBack},
	})
}

func platformUserKeyboard() *tele.ReplyMarkup {
	return replyKeyboard([][]string{
		{LabelNewBot},
		{LabelMyBots, LabelDelBot},
	})
}

func cancelKeyboard() *tele.ReplyMarkup {
	return replyKeyboard([][]string{{LabelCancel}})
}

func removeKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

func replyKeyboard(rows [][]string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	// Reply assigns the whole keyboard, so the rows must be collected
	// and passed in one call.
	out := make([]tele.Row, 0, len(rows))
	for _, row := range rows {
		btns := make([]tele.Btn, 0, len(row))
		for _, label := range row {
			btns = append(btns, rm.Text(label))
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}

// joinGateKeyboard pairs the channel link with the self-reported
// "joined" acknowledgment. Membership is never verified; this is a
// trust-based gate.
func joinGateKeyboard(channelURL string) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{
		InlineKeyboard: [][]tele.InlineButton{
			{{Text: "📢 Join Channel", URL: channelURL}},
			{{Text: "✅ I Joined", Data: joinAckData}},
		},
	}
}
