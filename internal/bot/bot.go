package bot

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/confirm"
	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/parser"
	"github.com/mmeshcher/scambi-bot/internal/repository"
	"github.com/mmeshcher/scambi-bot/internal/resolver"
	"github.com/mmeshcher/scambi-bot/internal/service"
)

// Команды бота. Для обмена и подарка поддерживаются итальянские синонимы.
const (
	CmdStart     = "start"
	CmdFeedback  = "feedback"
	CmdScambio   = "scambio"
	CmdGift      = "gift"
	CmdRegalo    = "regalo"
	CmdExchanges = "scambi"
	CmdPoints    = "punti"
)

// Service: операции сервиса, доступные боту.
type Service interface {
	IsAdmin(userID int64) bool
	GroupID() int64
	Threshold() int
	ObserveMember(ctx context.Context, userID int64, handle string) error
	LookupMember(ctx context.Context, ref model.Reference) (model.Member, error)
	UserPoints(ctx context.Context, userID int64) (model.User, error)
	UserExchanges(ctx context.Context, userID int64) ([]model.Exchange, error)

	Submit(ctx context.Context, in service.SubmitInput) (service.SubmitOutcome, error)
	OpenGift(ctx context.Context, giver service.Party, note, evidenceLink string) (model.Gift, error)
	AcceptGift(ctx context.Context, giftID int64, recipient service.Party) (service.GiftReceipt, error)

	AttachPrompt(ctx context.Context, handle string, ref model.MessageRef)
	CompleteConfirmation(ctx context.Context, handle string, initiatorID int64, caller service.Party) (service.SubmitOutcome, error)
	DeclineConfirmation(ctx context.Context, handle string, caller service.Party) (model.PendingConfirmation, error)
	AbortConfirmation(ctx context.Context, adminID int64, handle string) (model.PendingConfirmation, error)
	SweepConfirmations(ctx context.Context) []model.PendingConfirmation

	CancelExchange(ctx context.Context, adminID, exchangeID int64) (service.ExchangeReversal, error)
	CancelGift(ctx context.Context, adminID, giftID int64) (service.GiftReversal, error)
}

// Options: настройки бота.
type Options struct {
	// EvidenceChatID: чат, куда пересылаются скриншоты. Если 0, ссылка указывает на исходное сообщение.
	EvidenceChatID int64
}

// Bot обрабатывает события чата по одному.
type Bot struct {
	gw     Gateway
	svc    Service
	logger *zap.Logger
	opts   Options
}

// New создаёт Bot.
func New(gw Gateway, svc Service, logger *zap.Logger, opts Options) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{gw: gw, svc: svc, logger: logger, opts: opts}
}

// HandleMessage обрабатывает входящее сообщение.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) {
	if msg.From.ID == 0 || msg.From.IsBot {
		return
	}

	inGroup := msg.Ref.ChatID == b.svc.GroupID()
	if inGroup {
		b.observe(ctx, msg.From)
		for _, u := range msg.NewMembers {
			b.observe(ctx, u)
		}
	}

	cmd, ok := parser.Command(msg.Text)
	if !ok {
		return
	}

	switch cmd {
	case CmdStart:
		b.handleStart(ctx, msg)
	case CmdFeedback, CmdScambio:
		if inGroup {
			b.handleExchange(ctx, msg)
		}
	case CmdGift, CmdRegalo:
		if inGroup {
			b.handleGift(ctx, msg)
		}
	case CmdExchanges, CmdPoints:
		if inGroup || msg.ChatType == ChatPrivate {
			b.handleStats(ctx, msg, cmd, inGroup)
		}
	}
}

func (b *Bot) observe(ctx context.Context, u User) {
	if u.ID == 0 || u.IsBot {
		return
	}
	if err := b.svc.ObserveMember(ctx, u.ID, u.Handle); err != nil {
		b.logger.Warn("failed to observe member", zap.Int64("user_id", u.ID), zap.Error(err))
	}
}

func (b *Bot) handleStart(ctx context.Context, msg Message) {
	if msg.ChatType != ChatPrivate || !b.svc.IsAdmin(msg.From.ID) {
		return
	}
	b.send(ctx, OutgoingMessage{ChatID: msg.Ref.ChatID, Text: startText(msg.From.FirstName)})
}

func (b *Bot) handleExchange(ctx context.Context, msg Message) {
	keep := false
	defer func() {
		if !keep {
			b.deleteMessage(ctx, msg.Ref)
		}
	}()

	if !msg.HasPhoto {
		b.reply(ctx, msg, validationText(model.NewValidationError(model.ReasonMissingEvidence, "")), closeKeyboard())
		return
	}

	var parsed parser.Parsed
	switch r := parser.Parse(parser.Caption{Text: msg.Text, Mentions: msg.Mentions}).(type) {
	case parser.Parsed:
		parsed = r
	case parser.Incomplete:
		b.reply(ctx, msg, validationText(missingField(r)), closeKeyboard())
		return
	default:
		b.reply(ctx, msg, textExchangeFormat, closeKeyboard())
		return
	}

	link, inPlace := b.evidence(ctx, msg)
	out, err := b.svc.Submit(ctx, service.SubmitInput{
		Kind:         model.ConfirmExchange,
		Initiator:    party(msg.From),
		Reference:    parsed.Reference,
		Note:         parsed.Note,
		EvidenceLink: link,
	})
	if b.report(ctx, msg.Ref.ChatID, msg.ThreadID, out, err) && inPlace {
		keep = true
	}
}

func (b *Bot) handleGift(ctx context.Context, msg Message) {
	keep := false
	defer func() {
		if !keep {
			b.deleteMessage(ctx, msg.Ref)
		}
	}()

	var (
		link    string
		inPlace bool
	)
	if msg.HasPhoto {
		link, inPlace = b.evidence(ctx, msg)
	}

	switch r := parser.Parse(parser.Caption{Text: msg.Text, Mentions: msg.Mentions}).(type) {
	case parser.Parsed:
		out, err := b.svc.Submit(ctx, service.SubmitInput{
			Kind:         model.ConfirmGift,
			Initiator:    party(msg.From),
			Reference:    r.Reference,
			Note:         r.Note,
			EvidenceLink: link,
		})
		keep = b.report(ctx, msg.Ref.ChatID, msg.ThreadID, out, err) && inPlace
	case parser.Incomplete:
		if r.Missing == parser.FieldNote {
			b.reply(ctx, msg, validationText(missingField(r)), closeKeyboard())
			return
		}
		if r.Rest == "" {
			b.reply(ctx, msg, textGiftFormat, closeKeyboard())
			return
		}
		g, err := b.svc.OpenGift(ctx, party(msg.From), r.Rest, link)
		if err != nil {
			b.replyError(ctx, msg.Ref.ChatID, msg.ThreadID, err)
			return
		}
		b.reply(ctx, msg, openGiftText(g), openGiftKeyboard(g))
		keep = inPlace
	default:
		b.reply(ctx, msg, textGiftFormat, closeKeyboard())
	}
}

func missingField(r parser.Incomplete) *model.ValidationError {
	if r.Missing == parser.FieldNote {
		return model.NewValidationError(model.ReasonMissingNote, "")
	}
	return model.NewValidationError(model.ReasonMissingCounterparty, r.Rest)
}

func (b *Bot) handleStats(ctx context.Context, msg Message, cmd string, inGroup bool) {
	if inGroup {
		defer b.deleteMessage(ctx, msg.Ref)
	}

	target := party(msg.From)
	var ref *model.Reference
	switch r := parser.Parse(parser.Caption{Text: msg.Text, Mentions: msg.Mentions}).(type) {
	case parser.Parsed:
		ref = &r.Reference
	case parser.Incomplete:
		if r.Reference != nil {
			ref = r.Reference
		} else if r.Rest != "" {
			b.reply(ctx, msg, validationText(model.NewValidationError(model.ReasonUnknownCounterparty, r.Rest)), closeKeyboard())
			return
		}
	}

	if ref != nil {
		m, err := b.svc.LookupMember(ctx, *ref)
		if err != nil {
			if errors.Is(err, resolver.ErrUnresolved) {
				err = model.NewValidationError(model.ReasonUnknownCounterparty, ref.String())
			}
			b.replyError(ctx, msg.Ref.ChatID, msg.ThreadID, err)
			return
		}
		target = service.Party{ID: m.ID, Handle: m.Handle}
	}

	if cmd == CmdPoints {
		u, err := b.svc.UserPoints(ctx, target.ID)
		if err != nil {
			b.replyError(ctx, msg.Ref.ChatID, msg.ThreadID, err)
			return
		}
		b.reply(ctx, msg, pointsText(u, target.Handle, b.svc.Threshold()), closeKeyboard())
		return
	}

	list, err := b.svc.UserExchanges(ctx, target.ID)
	if err != nil {
		b.replyError(ctx, msg.Ref.ChatID, msg.ThreadID, err)
		return
	}
	keyboard := closeKeyboard()
	if b.svc.IsAdmin(msg.From.ID) {
		keyboard = exchangesKeyboard(list)
	}
	b.reply(ctx, msg, exchangesText(target.ID, target.Handle, list), keyboard)
}

// HandleCallback обрабатывает нажатие кнопки. На каждый callback отвечает ровно один раз.
func (b *Bot) HandleCallback(ctx context.Context, cb Callback) {
	answer := b.dispatchCallback(ctx, cb)
	if cb.ID == "" {
		return
	}
	if err := b.gw.AnswerCallback(ctx, cb.ID, answer); err != nil {
		b.logger.Debug("failed to answer callback", zap.Error(err))
	}
}

func (b *Bot) dispatchCallback(ctx context.Context, cb Callback) string {
	if cb.From.IsBot {
		return ""
	}
	p, err := DecodePayload(cb.Data)
	if err != nil {
		b.logger.Debug("ignoring callback", zap.String("data", cb.Data), zap.Error(err))
		return ""
	}

	caller := party(cb.From)
	switch p.Action {
	case ActionClose:
		b.deleteMessage(ctx, cb.Message)
		return ""

	case ActionConfirm:
		out, err := b.svc.CompleteConfirmation(ctx, p.Handle, p.ID, caller)
		if answer, handled := b.confirmationError(ctx, cb, err); handled {
			return answer
		}
		if err != nil {
			if _, ok := model.AsValidation(err); !ok {
				// запрос остался в таблице, кнопку можно нажать ещё раз
				b.logger.Error("failed to complete confirmation", zap.String("handle", p.Handle), zap.Error(err))
				return textGenericFailure
			}
			b.deleteMessage(ctx, cb.Message)
			b.replyError(ctx, cb.Message.ChatID, cb.ThreadID, err)
			return ""
		}
		b.deleteMessage(ctx, cb.Message)
		b.report(ctx, cb.Message.ChatID, cb.ThreadID, out, nil)
		return ""

	case ActionDecline:
		pending, err := b.svc.DeclineConfirmation(ctx, p.Handle, caller)
		if answer, handled := b.confirmationError(ctx, cb, err); handled {
			return answer
		}
		if err != nil {
			b.logger.Error("failed to decline confirmation", zap.Error(err))
			return textGenericFailure
		}
		b.deleteMessage(ctx, cb.Message)
		b.send(ctx, OutgoingMessage{ChatID: cb.Message.ChatID, ThreadID: cb.ThreadID, Text: declinedText(pending), Buttons: closeKeyboard()})
		return ""

	case ActionAbort:
		_, err := b.svc.AbortConfirmation(ctx, cb.From.ID, p.Handle)
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			return ""
		case err != nil && !errors.Is(err, confirm.ErrNotPending):
			b.logger.Error("failed to abort confirmation", zap.Error(err))
			return textGenericFailure
		}
		b.deleteMessage(ctx, cb.Message)
		return ""

	case ActionRevert:
		rev, err := b.svc.CancelExchange(ctx, cb.From.ID, p.ID)
		if answer, handled := b.reversalError(err); handled {
			return answer
		}
		b.send(ctx, OutgoingMessage{ChatID: cb.Message.ChatID, ThreadID: cb.ThreadID, Text: exchangeRevertedText(rev), Buttons: closeKeyboard()})
		return ""

	case ActionRevertGift:
		rev, err := b.svc.CancelGift(ctx, cb.From.ID, p.ID)
		if answer, handled := b.reversalError(err); handled {
			return answer
		}
		b.send(ctx, OutgoingMessage{ChatID: cb.Message.ChatID, ThreadID: cb.ThreadID, Text: giftRevertedText(rev), Buttons: closeKeyboard()})
		return ""

	case ActionAccept:
		r, err := b.svc.AcceptGift(ctx, p.ID, caller)
		if err != nil {
			if vErr, ok := model.AsValidation(err); ok {
				if vErr.Reason == model.ReasonSelfReference {
					return "Non puoi accettare il tuo regalo."
				}
				return textExpired
			}
			if errors.Is(err, repository.ErrGiftNotFound) {
				return textNotFound
			}
			b.logger.Error("failed to accept gift", zap.Int64("gift_id", p.ID), zap.Error(err))
			return textGenericFailure
		}
		b.deleteMessage(ctx, cb.Message)
		b.send(ctx, OutgoingMessage{ChatID: cb.Message.ChatID, ThreadID: cb.ThreadID, Text: giftReceiptText(r.Gift), Buttons: giftReceiptKeyboard(r.Gift)})
		return ""
	}
	return ""
}

// confirmationError обрабатывает ошибки трекера; validation и ошибки хранилища возвращаются вызывающему.
func (b *Bot) confirmationError(ctx context.Context, cb Callback, err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, confirm.ErrNotAddressee):
		return textNotForYou, true
	case errors.Is(err, confirm.ErrNotPending):
		b.deleteMessage(ctx, cb.Message)
		return textExpired, true
	}
	return "", false
}

// reversalError возвращает ответ на callback для ошибки отмены. Отказ в правах остаётся без ответа.
func (b *Bot) reversalError(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, service.ErrUnauthorized):
		return "", true
	case errors.Is(err, repository.ErrAlreadyCancelled):
		return textAlreadyCanceled, true
	case errors.Is(err, repository.ErrExchangeNotFound), errors.Is(err, repository.ErrGiftNotFound):
		b.logger.Warn("reversal target not found", zap.Error(err))
		return textNotFound, true
	default:
		b.logger.Error("failed to reverse transaction", zap.Error(err))
		return textGenericFailure, true
	}
}

// report публикует результат Submit и возвращает true, если транзакция записана или ожидает подтверждения.
func (b *Bot) report(ctx context.Context, chatID int64, threadID int, out service.SubmitOutcome, err error) bool {
	switch {
	case errors.Is(err, confirm.ErrDuplicatePending) && out.Pending != nil:
		b.send(ctx, OutgoingMessage{ChatID: chatID, ThreadID: threadID, Text: duplicatePendingText(*out.Pending), Buttons: closeKeyboard()})
		return false
	case err != nil:
		b.replyError(ctx, chatID, threadID, err)
		return false
	case out.Exchange != nil:
		b.send(ctx, OutgoingMessage{ChatID: chatID, ThreadID: threadID, Text: exchangeReceiptText(*out.Exchange), Buttons: exchangeReceiptKeyboard(*out.Exchange)})
		return true
	case out.Gift != nil:
		g := out.Gift.Gift
		b.send(ctx, OutgoingMessage{ChatID: chatID, ThreadID: threadID, Text: giftReceiptText(g), Buttons: giftReceiptKeyboard(g)})
		return true
	case out.Pending != nil:
		p := *out.Pending
		ref, ok := b.send(ctx, OutgoingMessage{ChatID: chatID, ThreadID: threadID, Text: pendingText(p), Buttons: pendingKeyboard(p)})
		if ok {
			b.svc.AttachPrompt(ctx, p.Handle, ref)
		}
		return true
	}
	return false
}

func (b *Bot) replyError(ctx context.Context, chatID int64, threadID int, err error) {
	text := textGenericFailure
	if vErr, ok := model.AsValidation(err); ok {
		text = validationText(vErr)
	} else {
		b.logger.Error("operation failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	b.send(ctx, OutgoingMessage{ChatID: chatID, ThreadID: threadID, Text: text, Buttons: closeKeyboard()})
}

// evidence пересылает скриншот в чат доказательств. inPlace означает, что ссылка
// указывает на само сообщение с командой и его нельзя удалять.
func (b *Bot) evidence(ctx context.Context, msg Message) (link string, inPlace bool) {
	if b.opts.EvidenceChatID != 0 {
		fwd, err := b.gw.ForwardMessage(ctx, msg.Ref, b.opts.EvidenceChatID)
		if err == nil {
			return fwd.Link, false
		}
		b.logger.Warn("failed to forward evidence", zap.Int64("chat_id", msg.Ref.ChatID), zap.Error(err))
	}
	return MessageLink(msg.Ref), true
}

// SweepConfirmations удаляет просроченные запросы и их сообщения с кнопками.
func (b *Bot) SweepConfirmations(ctx context.Context) {
	for _, p := range b.svc.SweepConfirmations(ctx) {
		if p.Prompt != nil {
			b.deleteMessage(ctx, *p.Prompt)
		}
	}
}

func (b *Bot) reply(ctx context.Context, msg Message, text string, buttons [][]Button) {
	b.send(ctx, OutgoingMessage{ChatID: msg.Ref.ChatID, ThreadID: msg.ThreadID, Text: text, Buttons: buttons})
}

func (b *Bot) send(ctx context.Context, out OutgoingMessage) (model.MessageRef, bool) {
	ref, err := b.gw.SendMessage(ctx, out)
	if err != nil {
		b.logger.Error("failed to send message", zap.Int64("chat_id", out.ChatID), zap.Error(err))
		return model.MessageRef{}, false
	}
	return ref, true
}

func (b *Bot) deleteMessage(ctx context.Context, ref model.MessageRef) {
	if err := b.gw.DeleteMessage(ctx, ref); err != nil {
		b.logger.Debug("failed to delete message", zap.Int64("chat_id", ref.ChatID), zap.Int("message_id", ref.MessageID), zap.Error(err))
	}
}

func party(u User) service.Party {
	return service.Party{ID: u.ID, Handle: u.Handle}
}
