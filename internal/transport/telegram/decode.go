package telegram

import (
	"encoding/json"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	"botforge/internal/transport"
)

// DecodeUpdate parses one raw webhook body (a Bot API Update object)
// into the neutral shape the dispatcher consumes. Update kinds this
// system does not handle (edits, channel posts, inline queries, ...)
// decode to an empty Update; the dispatcher rejects those as malformed.
func DecodeUpdate(data []byte) (transport.Update, error) {
	var u tele.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return transport.Update{}, err
	}

	if m := u.Message; m != nil {
		if m.Chat == nil || m.Sender == nil {
			return transport.Update{}, errors.New("telegram: message without chat or sender")
		}
		out := &transport.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			FromName:     strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName),
			Text:         m.Text,
			Caption:      m.Caption,
		}
		switch {
		case m.Photo != nil:
			out.PhotoID = m.Photo.FileID
		case m.Document != nil:
			out.DocumentID = m.Document.FileID
		case m.Video != nil:
			out.VideoID = m.Video.FileID
		case m.Audio != nil:
			out.AudioID = m.Audio.FileID
		case m.Voice != nil:
			out.VoiceID = m.Voice.FileID
		case m.Sticker != nil:
			out.StickerID = m.Sticker.FileID
		}
		return transport.Update{Message: out}, nil
	}

	if cb := u.Callback; cb != nil {
		if cb.Sender == nil {
			return transport.Update{}, errors.New("telegram: callback without sender")
		}
		out := &transport.Callback{
			ID:     cb.ID,
			FromID: cb.Sender.ID,
			Data:   strings.TrimPrefix(cb.Data, "\f"),
		}
		if cb.Message != nil && cb.Message.Chat != nil {
			out.ChatID = cb.Message.Chat.ID
			out.MessageID = cb.Message.ID
		}
		return transport.Update{Callback: out}, nil
	}

	return transport.Update{}, nil
}
