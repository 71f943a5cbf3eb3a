// Package model содержит доменные сущности бота учёта обменов и подарков.
package model

import (
	"strings"
	"time"
)

// User представляет участника сообщества и его счётчики.
type User struct {
	ID     int64
	Handle string
	// Points: циклический счётчик, обнуляется при достижении порога.
	Points int
	// Total: общее количество обменов без обнуления.
	Total int
}

// Exchange описывает обмен между двумя участниками.
type Exchange struct {
	ID           int64     `json:"id"`
	Member1      int64     `json:"member_1"`
	Member2      int64     `json:"member_2"`
	Handle1      string    `json:"handle_1,omitempty"`
	Handle2      string    `json:"handle_2,omitempty"`
	Note         string    `json:"note"`
	EvidenceLink string    `json:"evidence_link,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Cancelled    bool      `json:"cancelled"`
}

// Counterparty возвращает второго участника обмена относительно userID.
func (e Exchange) Counterparty(userID int64) (int64, string) {
	if e.Member1 == userID {
		return e.Member2, e.Handle2
	}
	return e.Member1, e.Handle1
}

// GiftState описывает стадию жизненного цикла подарка.
type GiftState string

const (
	GiftRequested GiftState = "requested"
	GiftAccepted  GiftState = "accepted"
	GiftCancelled GiftState = "cancelled"
)

// Gift описывает подарок от одного участника другому.
type Gift struct {
	ID              int64      `json:"id"`
	GiverID         int64      `json:"giver_id"`
	GiverHandle     string     `json:"giver_handle,omitempty"`
	RecipientID     *int64     `json:"recipient_id,omitempty"`
	RecipientHandle string     `json:"recipient_handle,omitempty"`
	Note            string     `json:"note"`
	EvidenceLink    string     `json:"evidence_link,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	Cancelled       bool       `json:"cancelled"`
}

// State возвращает текущую стадию подарка.
func (g Gift) State() GiftState {
	switch {
	case g.Cancelled:
		return GiftCancelled
	case g.RecipientID == nil:
		return GiftRequested
	default:
		return GiftAccepted
	}
}

// MemberStatus: статус участника в группе.
type MemberStatus string

const (
	StatusActive MemberStatus = "active"
	StatusLeft   MemberStatus = "left"
	StatusBanned MemberStatus = "banned"
)

// Member: результат поиска участника в группе.
type Member struct {
	ID     int64
	Handle string
	Status MemberStatus
	IsBot  bool
}

// ReferenceKind описывает форму ссылки на контрагента.
type ReferenceKind string

const (
	RefHandle  ReferenceKind = "handle"
	RefID      ReferenceKind = "id"
	RefMention ReferenceKind = "mention"
)

// Reference: ссылка на контрагента, извлечённая из подписи.
type Reference struct {
	Kind   ReferenceKind
	Handle string
	ID     int64
}

// String возвращает ссылку в том виде, в каком её удобно показать пользователю.
func (r Reference) String() string {
	if r.Kind == RefHandle {
		return "@" + r.Handle
	}
	return formatID(r.ID)
}

// NormalizeHandle приводит username к виду, используемому как ключ.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// Mention: структурированное упоминание пользователя в тексте.
// Offset и Length задаются в байтах текста.
type Mention struct {
	Offset int
	Length int
	UserID int64
}

// MessageRef указывает на сообщение в чате.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// ConfirmationKind различает подтверждение обмена и подарка.
type ConfirmationKind string

const (
	ConfirmExchange ConfirmationKind = "exchange"
	ConfirmGift     ConfirmationKind = "gift"
)

// PendingConfirmation: запрос, ожидающий подтверждения от контрагента,
// которого не удалось найти по username.
type PendingConfirmation struct {
	ID              string           `json:"id"`
	Handle          string           `json:"handle"`
	Kind            ConfirmationKind `json:"kind"`
	InitiatorID     int64            `json:"initiator_id"`
	InitiatorHandle string           `json:"initiator_handle,omitempty"`
	Note            string           `json:"note"`
	EvidenceLink    string           `json:"evidence_link,omitempty"`
	Prompt          *MessageRef      `json:"prompt,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// AppState: состояние приложения, хранимое одним JSON-документом.
// Notifications и GiftNotifications ключуются идентификатором обмена и подарка.
type AppState struct {
	GroupID           int64                  `json:"group_id"`
	OwnerID           int64                  `json:"owner_id"`
	AdminID           int64                  `json:"admin_id"`
	Notifications     map[int64][]MessageRef `json:"notifications,omitempty"`
	GiftNotifications map[int64][]MessageRef `json:"gift_notifications,omitempty"`
	Confirmations     []PendingConfirmation  `json:"confirmations,omitempty"`
}

// IsZero сообщает, что в состоянии нет ни одного заданного поля.
func (s AppState) IsZero() bool {
	return s.GroupID == 0 && s.OwnerID == 0 && s.AdminID == 0 &&
		len(s.Notifications) == 0 && len(s.GiftNotifications) == 0 && len(s.Confirmations) == 0
}

// IsAdmin проверяет, входит ли пользователь в список администраторов.
func (s AppState) IsAdmin(userID int64) bool {
	if userID == 0 {
		return false
	}
	return userID == s.OwnerID || userID == s.AdminID
}

// Clone возвращает глубокую копию состояния.
func (s AppState) Clone() AppState {
	c := s
	c.Notifications = cloneRefs(s.Notifications)
	c.GiftNotifications = cloneRefs(s.GiftNotifications)
	if s.Confirmations != nil {
		c.Confirmations = append([]PendingConfirmation(nil), s.Confirmations...)
	}
	return c
}

func cloneRefs(m map[int64][]MessageRef) map[int64][]MessageRef {
	if m == nil {
		return nil
	}
	c := make(map[int64][]MessageRef, len(m))
	for k, v := range m {
		c[k] = append([]MessageRef(nil), v...)
	}
	return c
}
