package telegram

import (
	"context"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/bot"
	"github.com/mmeshcher/scambi-bot/internal/model"
)

const pollTimeout = 25

// Handler принимает события из long polling.
type Handler interface {
	HandleMessage(ctx context.Context, msg bot.Message)
	HandleCallback(ctx context.Context, cb bot.Callback)
}

// Poll читает обновления до отмены ctx. События обрабатываются последовательно.
func (g *Gateway) Poll(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := g.api.GetUpdatesChan(u)
	defer g.api.StopReceivingUpdates()

	g.logger.Info("polling updates", zap.String("bot", g.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			g.dispatch(ctx, h, upd)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, h Handler, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		h.HandleMessage(ctx, convertMessage(upd.Message))
	case upd.CallbackQuery != nil:
		cb, ok := convertCallback(upd.CallbackQuery)
		if !ok {
			g.logger.Debug("skip callback without message", zap.String("id", upd.CallbackQuery.ID))
			return
		}
		h.HandleCallback(ctx, cb)
	}
}

func convertUser(u *tgbotapi.User) bot.User {
	if u == nil {
		return bot.User{}
	}
	return bot.User{ID: u.ID, Handle: u.UserName, FirstName: u.FirstName, IsBot: u.IsBot}
}

func convertMessage(m *tgbotapi.Message) bot.Message {
	text, entities := m.Text, m.Entities
	if text == "" {
		text, entities = m.Caption, m.CaptionEntities
	}

	msg := bot.Message{
		Ref:      refOf(m, 0),
		From:     convertUser(m.From),
		Text:     text,
		HasPhoto: len(m.Photo) > 0,
	}
	if m.Chat != nil {
		msg.ChatType = bot.ChatType(m.Chat.Type)
	}

	for _, e := range entities {
		if e.Type != "text_mention" || e.User == nil {
			continue
		}
		offset, length, ok := byteRange(text, e.Offset, e.Length)
		if !ok {
			continue
		}
		msg.Mentions = append(msg.Mentions, model.Mention{Offset: offset, Length: length, UserID: e.User.ID})
	}

	for i := range m.NewChatMembers {
		msg.NewMembers = append(msg.NewMembers, convertUser(&m.NewChatMembers[i]))
	}
	return msg
}

func convertCallback(q *tgbotapi.CallbackQuery) (bot.Callback, bool) {
	if q.Message == nil {
		return bot.Callback{}, false
	}
	return bot.Callback{
		ID:      q.ID,
		From:    convertUser(q.From),
		Message: refOf(q.Message, 0),
		Data:    q.Data,
	}, true
}

// byteRange переводит смещение и длину сущности из единиц UTF-16 в байты text.
func byteRange(text string, offset, length int) (int, int, bool) {
	if offset < 0 || length <= 0 {
		return 0, 0, false
	}

	start, end := -1, -1
	units := 0
	for i, r := range text {
		if start < 0 && units == offset {
			start = i
		}
		if units == offset+length {
			end = i
			break
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
	}
	if start < 0 && units == offset {
		start = len(text)
	}
	if end < 0 && units == offset+length {
		end = len(text)
	}

	if start < 0 || end <= start {
		return 0, 0, false
	}
	return start, end - start, true
}
