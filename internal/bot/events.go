package bot

import "github.com/mmeshcher/scambi-bot/internal/model"

// ChatType: тип чата, из которого пришло событие.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
)

// User: автор события.
type User struct {
	ID        int64
	Handle    string
	FirstName string
	IsBot     bool
}

// Message: входящее сообщение. Mentions задаются в байтах Text.
type Message struct {
	Ref        model.MessageRef
	ThreadID   int
	ChatType   ChatType
	From       User
	Text       string
	Mentions   []model.Mention
	HasPhoto   bool
	NewMembers []User
}

// Callback: нажатие кнопки под сообщением Message.
type Callback struct {
	ID       string
	From     User
	Message  model.MessageRef
	ThreadID int
	Data     string
}
