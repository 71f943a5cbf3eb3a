package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/scambi-bot/internal/bot"
	"github.com/mmeshcher/scambi-bot/internal/model"
)

func TestByteRange(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		offset     int
		length     int
		wantOffset int
		wantLength int
		wantOK     bool
	}{
		{name: "ascii", text: "/scambio Anna ok", offset: 9, length: 4, wantOffset: 9, wantLength: 4, wantOK: true},
		{name: "accent", text: "è Anna", offset: 2, length: 4, wantOffset: 3, wantLength: 4, wantOK: true},
		{name: "surrogate pair", text: "🎁 Anna", offset: 3, length: 4, wantOffset: 5, wantLength: 4, wantOK: true},
		{name: "entity is emoji", text: "a 😀", offset: 2, length: 2, wantOffset: 2, wantLength: 4, wantOK: true},
		{name: "past end", text: "abc", offset: 2, length: 5},
		{name: "splits pair", text: "😀x", offset: 1, length: 1},
		{name: "empty", text: "abc", offset: 1, length: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, n, ok := byteRange(tt.text, tt.offset, tt.length)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantOffset, off)
				assert.Equal(t, tt.wantLength, n)
			}
		})
	}
}

func TestConvertMessage_CaptionMention(t *testing.T) {
	text := "/scambio 🎁 Anna grazie"
	m := &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 100, UserName: "ay", FirstName: "A"},
		Chat:      &tgbotapi.Chat{ID: -1001, Type: "supergroup"},
		Caption:   text,
		Photo:     []tgbotapi.PhotoSize{{FileID: "f"}},
		CaptionEntities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: 8},
			{Type: "text_mention", Offset: 12, Length: 4, User: &tgbotapi.User{ID: 200}},
		},
	}

	got := convertMessage(m)

	assert.Equal(t, model.MessageRef{ChatID: -1001, MessageID: 42}, got.Ref)
	assert.Equal(t, bot.ChatSupergroup, got.ChatType)
	assert.Equal(t, bot.User{ID: 100, Handle: "ay", FirstName: "A"}, got.From)
	assert.Equal(t, text, got.Text)
	assert.True(t, got.HasPhoto)
	require.Len(t, got.Mentions, 1)

	mention := got.Mentions[0]
	assert.Equal(t, int64(200), mention.UserID)
	assert.Equal(t, "Anna", text[mention.Offset:mention.Offset+mention.Length])
}

func TestConvertMessage_NewMembers(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID:      1,
		Chat:           &tgbotapi.Chat{ID: -1001, Type: "group"},
		From:           &tgbotapi.User{ID: 100},
		NewChatMembers: []tgbotapi.User{{ID: 300, UserName: "nuovo"}, {ID: 400, UserName: "helperbot", IsBot: true}},
	}

	got := convertMessage(m)

	assert.Equal(t, bot.ChatGroup, got.ChatType)
	assert.False(t, got.HasPhoto)
	assert.Equal(t, []bot.User{{ID: 300, Handle: "nuovo"}, {ID: 400, Handle: "helperbot", IsBot: true}}, got.NewMembers)
}

func TestConvertCallback(t *testing.T) {
	_, ok := convertCallback(&tgbotapi.CallbackQuery{ID: "1", Data: "close"})
	assert.False(t, ok)

	cb, ok := convertCallback(&tgbotapi.CallbackQuery{
		ID:      "2",
		From:    &tgbotapi.User{ID: 2, UserName: "boss"},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: -1001}},
		Data:    "revert_3",
	})
	require.True(t, ok)
	assert.Equal(t, bot.Callback{
		ID:      "2",
		From:    bot.User{ID: 2, Handle: "boss"},
		Message: model.MessageRef{ChatID: -1001, MessageID: 9},
		Data:    "revert_3",
	}, cb)
}
