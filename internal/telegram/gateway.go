// Package telegram реализует bot.Gateway поверх Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/bot"
	"github.com/mmeshcher/scambi-bot/internal/model"
)

// Gateway: клиент Telegram Bot API.
type Gateway struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

// NewGateway создаёт клиент и проверяет токен запросом getMe.
// Пустой endpoint означает публичный Bot API.
func NewGateway(token, endpoint string, logger *zap.Logger) (*Gateway, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Gateway{api: api, logger: logger}, nil
}

// Self возвращает учётную запись бота.
func (g *Gateway) Self() bot.User {
	return bot.User{ID: g.api.Self.ID, Handle: g.api.Self.UserName, FirstName: g.api.Self.FirstName, IsBot: true}
}

// SendMessage отправляет HTML-сообщение с кнопками.
func (g *Gateway) SendMessage(ctx context.Context, msg bot.OutgoingMessage) (model.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return model.MessageRef{}, err
	}

	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", msg.ChatID)
	params.AddNonZero("message_thread_id", msg.ThreadID)
	params["text"] = msg.Text
	params["parse_mode"] = tgbotapi.ModeHTML
	params.AddBool("disable_web_page_preview", true)
	if len(msg.Buttons) > 0 {
		if err := params.AddInterface("reply_markup", keyboard(msg.Buttons)); err != nil {
			return model.MessageRef{}, fmt.Errorf("encode keyboard: %w", err)
		}
	}

	resp, err := g.api.MakeRequest("sendMessage", params)
	if err != nil {
		return model.MessageRef{}, fmt.Errorf("send message: %w", err)
	}

	var sent tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return model.MessageRef{}, fmt.Errorf("decode sent message: %w", err)
	}
	return refOf(&sent, msg.ChatID), nil
}

// DeleteMessage удаляет сообщение.
func (g *Gateway) DeleteMessage(ctx context.Context, ref model.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("delete message %d: %w", ref.MessageID, err)
	}
	return nil
}

// GetMember запрашивает статус участника в чате.
func (g *Gateway) GetMember(ctx context.Context, chatID, userID int64) (model.Member, error) {
	if err := ctx.Err(); err != nil {
		return model.Member{}, err
	}

	cm, err := g.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return model.Member{}, fmt.Errorf("%w: %d", model.ErrMemberNotFound, userID)
		}
		return model.Member{}, fmt.Errorf("get chat member: %w", err)
	}
	if cm.User == nil {
		return model.Member{}, fmt.Errorf("%w: %d", model.ErrMemberNotFound, userID)
	}

	return model.Member{
		ID:     cm.User.ID,
		Handle: cm.User.UserName,
		Status: memberStatus(cm),
		IsBot:  cm.User.IsBot,
	}, nil
}

// GetMemberByHandle всегда возвращает model.ErrMemberNotFound: Bot API не ищет участников
// по username, поиск продолжается через кэш username.
func (g *Gateway) GetMemberByHandle(ctx context.Context, chatID int64, handle string) (model.Member, error) {
	return model.Member{}, fmt.Errorf("%w: @%s", model.ErrMemberNotFound, handle)
}

// ForwardMessage пересылает сообщение и возвращает ссылку на копию.
func (g *Gateway) ForwardMessage(ctx context.Context, from model.MessageRef, toChatID int64) (bot.Forwarded, error) {
	if err := ctx.Err(); err != nil {
		return bot.Forwarded{}, err
	}

	sent, err := g.api.Send(tgbotapi.NewForward(toChatID, from.ChatID, from.MessageID))
	if err != nil {
		return bot.Forwarded{}, fmt.Errorf("forward message: %w", err)
	}

	ref := refOf(&sent, toChatID)
	link := bot.MessageLink(ref)
	if sent.Chat != nil && sent.Chat.UserName != "" {
		link = fmt.Sprintf("https://t.me/%s/%d", sent.Chat.UserName, sent.MessageID)
	}
	return bot.Forwarded{Ref: ref, Link: link}, nil
}

// AnswerCallback завершает обработку нажатия кнопки; непустой text показывается всплывающим уведомлением.
func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func keyboard(rows [][]bot.Button) tgbotapi.InlineKeyboardMarkup {
	res := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		res = append(res, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(res...)
}

func memberStatus(cm tgbotapi.ChatMember) model.MemberStatus {
	switch cm.Status {
	case "creator", "administrator", "member":
		return model.StatusActive
	case "restricted":
		if cm.IsMember {
			return model.StatusActive
		}
		return model.StatusLeft
	case "kicked":
		return model.StatusBanned
	default:
		return model.StatusLeft
	}
}

func refOf(m *tgbotapi.Message, fallbackChat int64) model.MessageRef {
	chatID := fallbackChat
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	return model.MessageRef{ChatID: chatID, MessageID: m.MessageID}
}
