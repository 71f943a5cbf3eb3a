package bot

import (
	"context"
	"strings"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

// GroupRoster ищет участников обслуживаемой группы через Gateway.
type GroupRoster struct {
	gw      Gateway
	groupID func() int64
}

// NewGroupRoster создаёт GroupRoster. groupID вызывается при каждом запросе,
// так как группа может быть изменена после старта.
func NewGroupRoster(gw Gateway, groupID func() int64) *GroupRoster {
	return &GroupRoster{gw: gw, groupID: groupID}
}

// MemberByID ищет участника группы по идентификатору.
func (r *GroupRoster) MemberByID(ctx context.Context, userID int64) (model.Member, error) {
	return r.gw.GetMember(ctx, r.groupID(), userID)
}

// MemberByHandle ищет участника группы по username.
func (r *GroupRoster) MemberByHandle(ctx context.Context, handle string) (model.Member, error) {
	return r.gw.GetMemberByHandle(ctx, r.groupID(), model.NormalizeHandle(handle))
}

// Notifier публикует поздравления с достижением порога.
type Notifier struct {
	gw        Gateway
	threshold int
}

// NewNotifier создаёт Notifier.
func NewNotifier(gw Gateway, threshold int) *Notifier {
	return &Notifier{gw: gw, threshold: threshold}
}

// ThresholdReached отправляет одно сообщение со всеми участниками, достигшими порога.
func (n *Notifier) ThresholdReached(ctx context.Context, chatID int64, users []model.User) (model.MessageRef, error) {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, userLink(u.ID, u.Handle))
	}

	return n.gw.SendMessage(ctx, OutgoingMessage{
		ChatID:  chatID,
		Text:    thresholdText(strings.Join(names, ", "), n.threshold),
		Buttons: closeKeyboard(),
	})
}

// Retract удаляет ранее отправленное поздравление.
func (n *Notifier) Retract(ctx context.Context, ref model.MessageRef) error {
	return n.gw.DeleteMessage(ctx, ref)
}
