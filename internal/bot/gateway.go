// Package bot принимает события чата, маршрутизирует команды и нажатия кнопок
// в сервис и формирует ответы.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

// Button: кнопка под сообщением; Data передаётся обратно в Callback.
type Button struct {
	Text string
	Data string
}

// OutgoingMessage: сообщение, отправляемое ботом. Text размечен HTML.
type OutgoingMessage struct {
	ChatID   int64
	ThreadID int
	Text     string
	Buttons  [][]Button
}

// Forwarded: пересланное сообщение и ссылка на него.
type Forwarded struct {
	Ref  model.MessageRef
	Link string
}

// Gateway: доступ к API чат-платформы.
// GetMember и GetMemberByHandle возвращают model.ErrMemberNotFound, если участник неизвестен.
type Gateway interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) (model.MessageRef, error)
	DeleteMessage(ctx context.Context, ref model.MessageRef) error
	GetMember(ctx context.Context, chatID, userID int64) (model.Member, error)
	GetMemberByHandle(ctx context.Context, chatID int64, handle string) (model.Member, error)
	ForwardMessage(ctx context.Context, from model.MessageRef, toChatID int64) (Forwarded, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// MessageLink строит ссылку на сообщение в супергруппе.
func MessageLink(ref model.MessageRef) string {
	id := strconv.FormatInt(ref.ChatID, 10)
	id = strings.TrimPrefix(id, "-100")
	id = strings.TrimPrefix(id, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, ref.MessageID)
}
