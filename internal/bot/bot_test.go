package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/scambi-bot/internal/confirm"
	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/repository"
	"github.com/mmeshcher/scambi-bot/internal/resolver"
	"github.com/mmeshcher/scambi-bot/internal/service"
)

const (
	testGroup    = int64(-1001234567)
	testEvidence = int64(-1009999999)
	testAdmin    = int64(2)
)

type stubGateway struct {
	mu       sync.Mutex
	nextID   int
	members  map[int64]model.Member
	sent     []OutgoingMessage
	sentRefs []model.MessageRef
	deleted  []model.MessageRef
	answers  []string
	forwards int
	sendErr  error
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		nextID: 100,
		members: map[int64]model.Member{
			100: {ID: 100, Handle: "ay", Status: model.StatusActive},
			200: {ID: 200, Handle: "bee", Status: model.StatusActive},
			testAdmin: {ID: testAdmin, Handle: "boss", Status: model.StatusActive},
		},
	}
}

func (g *stubGateway) SendMessage(ctx context.Context, msg OutgoingMessage) (model.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return model.MessageRef{}, g.sendErr
	}
	g.nextID++
	ref := model.MessageRef{ChatID: msg.ChatID, MessageID: g.nextID}
	g.sent = append(g.sent, msg)
	g.sentRefs = append(g.sentRefs, ref)
	return ref, nil
}

func (g *stubGateway) DeleteMessage(ctx context.Context, ref model.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, ref)
	return nil
}

func (g *stubGateway) GetMember(ctx context.Context, chatID, userID int64) (model.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.members[userID]; ok {
		return m, nil
	}
	return model.Member{}, model.ErrMemberNotFound
}

func (g *stubGateway) setMember(m model.Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[m.ID] = m
}

func (g *stubGateway) GetMemberByHandle(ctx context.Context, chatID int64, handle string) (model.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if model.NormalizeHandle(m.Handle) == model.NormalizeHandle(handle) {
			return m, nil
		}
	}
	return model.Member{}, model.ErrMemberNotFound
}

func (g *stubGateway) ForwardMessage(ctx context.Context, from model.MessageRef, toChatID int64) (Forwarded, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forwards++
	g.nextID++
	ref := model.MessageRef{ChatID: toChatID, MessageID: g.nextID}
	return Forwarded{Ref: ref, Link: MessageLink(ref)}, nil
}

func (g *stubGateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answers = append(g.answers, text)
	return nil
}

func (g *stubGateway) lastSent(t *testing.T) (OutgoingMessage, model.MessageRef) {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.sent)
	return g.sent[len(g.sent)-1], g.sentRefs[len(g.sentRefs)-1]
}

func (g *stubGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *stubGateway) wasDeleted(ref model.MessageRef) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.deleted {
		if d == ref {
			return true
		}
	}
	return false
}

type harness struct {
	bot  *Bot
	gw   *stubGateway
	svc  *service.Service
	repo *repository.MemoryRepository
	msg  int
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	gw := newStubGateway()
	repo := repository.NewMemoryRepository()

	var svc *service.Service
	roster := NewGroupRoster(gw, func() int64 { return svc.GroupID() })
	svc, err := service.NewService(repo, resolver.New(roster, repo), confirm.NewTracker(), NewNotifier(gw, 6), nil, service.Options{})
	require.NoError(t, err)
	require.NoError(t, svc.InitState(context.Background(), model.AppState{GroupID: testGroup, OwnerID: 1, AdminID: testAdmin}))

	return &harness{bot: New(gw, svc, nil, opts), gw: gw, svc: svc, repo: repo, msg: 1}
}

func (h *harness) message(from User, text string, photo bool) Message {
	h.msg++
	return Message{
		Ref:      model.MessageRef{ChatID: testGroup, MessageID: h.msg},
		ChatType: ChatSupergroup,
		From:     from,
		Text:     text,
		HasPhoto: photo,
	}
}

func (h *harness) press(from User, msg model.MessageRef, data string) {
	h.bot.HandleCallback(context.Background(), Callback{ID: "cb", From: from, Message: msg, Data: data})
}

var (
	userA = User{ID: 100, Handle: "ay", FirstName: "A"}
	userB = User{ID: 200, Handle: "bee", FirstName: "B"}
	admin = User{ID: testAdmin, Handle: "boss", FirstName: "Boss"}
)

func findButton(t *testing.T, msg OutgoingMessage, action Action) string {
	t.Helper()
	for _, row := range msg.Buttons {
		for _, btn := range row {
			if strings.HasPrefix(btn.Data, string(action)+"_") || btn.Data == string(action) {
				return btn.Data
			}
		}
	}
	t.Fatalf("button %q not found in %+v", action, msg.Buttons)
	return ""
}

func TestExchangeCommandRecordsAndDeletes(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	msg := h.message(userA, "/scambio @bee great trade", true)
	h.bot.HandleMessage(ctx, msg)

	out, _ := h.gw.lastSent(t)
	assert.Contains(t, out.Text, "Scambio <b>#1</b>")
	assert.Contains(t, out.Text, "great trade")
	assert.Equal(t, "revert_1", findButton(t, out, ActionRevert))
	assert.True(t, h.gw.wasDeleted(msg.Ref))
	assert.Equal(t, 1, h.gw.forwards)

	ex, err := h.repo.GetExchange(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ex.Member1)
	assert.Equal(t, int64(200), ex.Member2)
	assert.True(t, strings.HasPrefix(ex.EvidenceLink, "https://t.me/c/9999999/"))
}

func TestExchangeWithoutEvidenceChatKeepsMessage(t *testing.T) {
	h := newHarness(t, Options{})

	msg := h.message(userA, "!feedback @bee ok", true)
	h.bot.HandleMessage(context.Background(), msg)

	assert.False(t, h.gw.wasDeleted(msg.Ref))
	ex, err := h.repo.GetExchange(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, MessageLink(msg.Ref), ex.EvidenceLink)
}

func TestExchangeCommandValidation(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		photo bool
		want  string
	}{
		{name: "no photo", text: "/scambio @bee great", photo: false, want: "screenshot"},
		{name: "no counterparty", text: "/scambio", photo: true, want: "Indica l'<b>utente</b>"},
		{name: "counterparty not a reference", text: "/scambio great trade", photo: true, want: "Indica l'<b>utente</b>"},
		{name: "no note", text: "/scambio @bee", photo: true, want: "Aggiungi un <b>feedback</b>"},
		{name: "self", text: "/scambio @ay hi", photo: true, want: "con te stesso"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{EvidenceChatID: testEvidence})
			msg := h.message(userA, tt.text, tt.photo)
			h.bot.HandleMessage(context.Background(), msg)

			out, _ := h.gw.lastSent(t)
			assert.Contains(t, out.Text, tt.want)
			assert.True(t, h.gw.wasDeleted(msg.Ref))

			_, err := h.repo.GetExchange(context.Background(), 1)
			assert.ErrorIs(t, err, repository.ErrExchangeNotFound)
		})
	}
}

func TestGiftCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "nothing", text: "/regalo", want: "formato corretto"},
		{name: "no description", text: "/regalo @bee", want: "Aggiungi un <b>feedback</b>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{EvidenceChatID: testEvidence})
			msg := h.message(userA, tt.text, false)
			h.bot.HandleMessage(context.Background(), msg)

			out, _ := h.gw.lastSent(t)
			assert.Contains(t, out.Text, tt.want)
			assert.True(t, h.gw.wasDeleted(msg.Ref))

			_, err := h.repo.GetGift(context.Background(), 1)
			assert.ErrorIs(t, err, repository.ErrGiftNotFound)
		})
	}
}

func TestIgnoresOtherChatsAndPlainText(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	msg := h.message(userA, "/scambio @bee great", true)
	msg.Ref.ChatID = -42
	h.bot.HandleMessage(ctx, msg)

	h.bot.HandleMessage(ctx, h.message(userA, "hello everyone", false))
	assert.Equal(t, 0, h.gw.sentCount())

	u, err := h.repo.GetUser(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "ay", u.Handle)
}

func TestThresholdAndAdminRevert(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		h.bot.HandleMessage(ctx, h.message(userA, "/scambio @bee great trade", true))
	}

	st := h.svc.State()
	refs := st.Notifications[6]
	require.Len(t, refs, 1)

	receipt, _ := h.gw.lastSent(t)
	revert := findButton(t, receipt, ActionRevert)
	assert.Equal(t, "revert_6", revert)

	sentBefore := h.gw.sentCount()
	h.press(userA, model.MessageRef{ChatID: testGroup, MessageID: 1}, revert)
	assert.Equal(t, sentBefore, h.gw.sentCount(), "non-admin press must be ignored")
	assert.Equal(t, "", h.gw.answers[len(h.gw.answers)-1])

	h.press(admin, model.MessageRef{ChatID: testGroup, MessageID: 1}, revert)
	out, _ := h.gw.lastSent(t)
	assert.Contains(t, out.Text, "annullato")
	assert.True(t, h.gw.wasDeleted(refs[0]))

	u, err := h.svc.UserPoints(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, 5, u.Points)

	h.press(admin, model.MessageRef{ChatID: testGroup, MessageID: 1}, revert)
	assert.Equal(t, textAlreadyCanceled, h.gw.answers[len(h.gw.answers)-1])
	u, err = h.svc.UserPoints(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, 5, u.Points)
}

func TestPendingConfirmationFlow(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	h.bot.HandleMessage(ctx, h.message(userA, "/scambio @newbie great trade", true))
	prompt, promptRef := h.gw.lastSent(t)
	assert.Contains(t, prompt.Text, "@newbie")
	confirmData := findButton(t, prompt, ActionConfirm)
	assert.Equal(t, "confirm_100_newbie", confirmData)

	pending, ok := h.svc.PendingConfirmation("newbie")
	require.True(t, ok)
	require.NotNil(t, pending.Prompt)
	assert.Equal(t, promptRef, *pending.Prompt)

	h.bot.HandleMessage(ctx, h.message(userB, "/scambio @newbie other", true))
	dup, _ := h.gw.lastSent(t)
	assert.Contains(t, dup.Text, "già una richiesta")

	h.press(userB, promptRef, confirmData)
	assert.Equal(t, textNotForYou, h.gw.answers[len(h.gw.answers)-1])

	newbie := User{ID: 700, Handle: "newbie"}
	h.gw.setMember(model.Member{ID: 700, Handle: "newbie", Status: model.StatusActive})
	h.press(newbie, promptRef, confirmData)
	assert.True(t, h.gw.wasDeleted(promptRef))
	receipt, _ := h.gw.lastSent(t)
	assert.Contains(t, receipt.Text, "Scambio <b>#1</b>")

	ex, err := h.repo.GetExchange(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(700), ex.Member2)
	assert.Equal(t, "great trade", ex.Note)

	h.press(newbie, promptRef, confirmData)
	assert.Equal(t, textExpired, h.gw.answers[len(h.gw.answers)-1])
}

func TestPendingConfirmationByFormerMember(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	h.bot.HandleMessage(ctx, h.message(userA, "/scambio @newbie great trade", true))
	prompt, promptRef := h.gw.lastSent(t)

	h.gw.setMember(model.Member{ID: 700, Handle: "newbie", Status: model.StatusLeft})
	h.press(User{ID: 700, Handle: "newbie"}, promptRef, findButton(t, prompt, ActionConfirm))

	assert.True(t, h.gw.wasDeleted(promptRef))
	out, _ := h.gw.lastSent(t)
	assert.Equal(t, validationText(model.NewValidationError(model.ReasonInactiveCounterparty, "")), out.Text)

	_, ok := h.svc.PendingConfirmation("newbie")
	assert.False(t, ok)
	_, err := h.repo.GetExchange(ctx, 1)
	require.Error(t, err)
}

func TestAbortRequiresAdmin(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	h.bot.HandleMessage(ctx, h.message(userA, "/regalo @newbie stickers", false))
	prompt, promptRef := h.gw.lastSent(t)
	abort := findButton(t, prompt, ActionAbort)

	h.press(userB, promptRef, abort)
	assert.False(t, h.gw.wasDeleted(promptRef))

	h.press(admin, promptRef, abort)
	assert.True(t, h.gw.wasDeleted(promptRef))
	_, ok := h.svc.PendingConfirmation("newbie")
	assert.False(t, ok)
}

func TestDeclineByAddressee(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	h.bot.HandleMessage(ctx, h.message(userA, "/scambio @newbie trade", true))
	prompt, promptRef := h.gw.lastSent(t)

	h.press(User{ID: 700, Handle: "newbie"}, promptRef, findButton(t, prompt, ActionDecline))
	assert.True(t, h.gw.wasDeleted(promptRef))
	out, _ := h.gw.lastSent(t)
	assert.Contains(t, out.Text, "annullata")
}

func TestOpenGiftAccept(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	h.bot.HandleMessage(ctx, h.message(userA, "/gift old comics for anyone", false))
	offer, offerRef := h.gw.lastSent(t)
	accept := findButton(t, offer, ActionAccept)

	h.press(userA, offerRef, accept)
	assert.Equal(t, "Non puoi accettare il tuo regalo.", h.gw.answers[len(h.gw.answers)-1])

	h.press(userB, offerRef, accept)
	assert.True(t, h.gw.wasDeleted(offerRef))
	receipt, _ := h.gw.lastSent(t)
	assert.Contains(t, receipt.Text, "Regalo <b>#1</b>")

	g, err := h.repo.GetGift(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.GiftAccepted, g.State())
	assert.Equal(t, "old comics for anyone", g.Note)

	h.press(User{ID: 300, Handle: "late"}, offerRef, accept)
	assert.Equal(t, textExpired, h.gw.answers[len(h.gw.answers)-1])
}

func TestPointsAndExchangesCommands(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	h.bot.HandleMessage(ctx, h.message(userA, "/scambio @bee great trade", true))

	h.bot.HandleMessage(ctx, h.message(userA, "/punti @bee", false))
	out, _ := h.gw.lastSent(t)
	assert.Contains(t, out.Text, "<b>1/6</b>")
	assert.Contains(t, out.Text, "@bee")

	h.bot.HandleMessage(ctx, h.message(userA, "/punti", false))
	out, _ = h.gw.lastSent(t)
	assert.Contains(t, out.Text, "@ay")

	h.bot.HandleMessage(ctx, h.message(userB, "/scambi", false))
	out, _ = h.gw.lastSent(t)
	assert.Contains(t, out.Text, "#1</b> con @ay")
	assert.Len(t, out.Buttons, 1)

	h.bot.HandleMessage(ctx, h.message(admin, "/scambi @bee", false))
	out, _ = h.gw.lastSent(t)
	assert.Equal(t, "revert_1", findButton(t, out, ActionRevert))

	h.bot.HandleMessage(ctx, h.message(userA, "/punti @nobody", false))
	out, _ = h.gw.lastSent(t)
	assert.Contains(t, out.Text, "Non trovo")
}

func TestStartOnlyForAdminsInPrivate(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	private := Message{Ref: model.MessageRef{ChatID: 100, MessageID: 1}, ChatType: ChatPrivate, From: userA, Text: "/start"}
	h.bot.HandleMessage(ctx, private)
	assert.Equal(t, 0, h.gw.sentCount())

	private = Message{Ref: model.MessageRef{ChatID: testAdmin, MessageID: 1}, ChatType: ChatPrivate, From: admin, Text: "/start"}
	h.bot.HandleMessage(ctx, private)
	out, _ := h.gw.lastSent(t)
	assert.Contains(t, out.Text, "Ciao, Boss.")
}

func TestCloseButtonAndBadPayload(t *testing.T) {
	h := newHarness(t, Options{})
	ref := model.MessageRef{ChatID: testGroup, MessageID: 55}

	h.press(userA, ref, "close")
	assert.True(t, h.gw.wasDeleted(ref))

	h.press(userA, ref, "revert_abc")
	assert.Len(t, h.gw.answers, 2)
}

func TestSweepKeepsFreshPrompts(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	ctx := context.Background()

	h.bot.HandleMessage(ctx, h.message(userA, "/scambio @newbie trade", true))
	_, promptRef := h.gw.lastSent(t)

	h.bot.SweepConfirmations(ctx)
	assert.False(t, h.gw.wasDeleted(promptRef))
}

func TestPromptSendFailureLeavesPending(t *testing.T) {
	h := newHarness(t, Options{EvidenceChatID: testEvidence})
	h.gw.sendErr = errors.New("network down")

	h.bot.HandleMessage(context.Background(), h.message(userA, "/scambio @newbie trade", true))
	pending, ok := h.svc.PendingConfirmation("newbie")
	require.True(t, ok)
	assert.Nil(t, pending.Prompt)
}
