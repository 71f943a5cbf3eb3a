package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/confirm"
	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/resolver"
)

// SubmitInput: запрос на запись обмена или подарка со ссылкой на контрагента.
type SubmitInput struct {
	Kind         model.ConfirmationKind
	Initiator    Party
	Reference    model.Reference
	Note         string
	EvidenceLink string
}

// SubmitOutcome: результат Submit или CompleteConfirmation.
// Ровно одно из Exchange, Gift, Pending заполнено при успехе.
type SubmitOutcome struct {
	Exchange *ExchangeReceipt
	Gift     *GiftReceipt
	// Pending: запрос, ожидающий подтверждения (новый, существующий или только что закрытый).
	Pending *model.PendingConfirmation
}

// Submit определяет контрагента и записывает транзакцию. Если контрагента
// не удалось найти по username, открывается запрос на подтверждение.
// Для username с уже открытым запросом возвращается confirm.ErrDuplicatePending
// и существующий запрос в Pending.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitOutcome, error) {
	if strings.TrimSpace(in.Note) == "" {
		return SubmitOutcome{}, model.NewValidationError(model.ReasonMissingNote, "")
	}
	if in.Reference.Kind == model.RefHandle && in.Initiator.Handle != "" &&
		model.NormalizeHandle(in.Reference.Handle) == model.NormalizeHandle(in.Initiator.Handle) {
		return SubmitOutcome{}, model.NewValidationError(model.ReasonSelfReference, "")
	}

	member, err := s.resolver.Resolve(ctx, in.Reference)
	switch {
	case errors.Is(err, resolver.ErrUnresolved):
		if in.Reference.Kind != model.RefHandle {
			return SubmitOutcome{}, model.NewValidationError(model.ReasonUnknownCounterparty, in.Reference.String())
		}
		return s.openPending(ctx, in)
	case err != nil:
		return SubmitOutcome{}, fmt.Errorf("resolve counterparty: %w", err)
	}

	if err := resolver.Validate(in.Initiator.ID, member); err != nil {
		return SubmitOutcome{}, err
	}

	return s.commit(ctx, in.Kind, in.Initiator, Party{ID: member.ID, Handle: member.Handle}, in.Note, in.EvidenceLink)
}

func (s *Service) openPending(ctx context.Context, in SubmitInput) (SubmitOutcome, error) {
	p, err := s.tracker.Open(model.PendingConfirmation{
		Handle:          in.Reference.Handle,
		Kind:            in.Kind,
		InitiatorID:     in.Initiator.ID,
		InitiatorHandle: in.Initiator.Handle,
		Note:            strings.TrimSpace(in.Note),
		EvidenceLink:    in.EvidenceLink,
	})
	if err != nil {
		if errors.Is(err, confirm.ErrDuplicatePending) {
			return SubmitOutcome{Pending: &p}, err
		}
		return SubmitOutcome{}, err
	}

	s.logger.Info("confirmation pending",
		zap.String("handle", p.Handle),
		zap.String("kind", string(p.Kind)),
		zap.Int64("initiator_id", p.InitiatorID),
	)
	// ошибку записи saveState пишет в лог сам; здесь и ниже она не влияет на ответ
	_ = s.saveState(ctx)
	return SubmitOutcome{Pending: &p}, nil
}

// PendingConfirmation возвращает запрос, ожидающий подтверждения от handle.
func (s *Service) PendingConfirmation(handle string) (model.PendingConfirmation, bool) {
	return s.tracker.Get(handle)
}

// AttachPrompt запоминает сообщение с кнопками подтверждения.
func (s *Service) AttachPrompt(ctx context.Context, handle string, ref model.MessageRef) {
	if s.tracker.AttachPrompt(handle, ref) {
		_ = s.saveState(ctx)
	}
}

// CompleteConfirmation фиксирует транзакцию по нажатию кнопки адресатом.
// Адресат проходит те же проверки, что и контрагент в Submit; при отказе
// запрос закрывается. Если запись не удалась из-за хранилища или группы,
// запрос возвращается в таблицу.
func (s *Service) CompleteConfirmation(ctx context.Context, handle string, initiatorID int64, caller Party) (SubmitOutcome, error) {
	p, err := s.tracker.Claim(handle, caller.Handle, initiatorID)
	if err != nil {
		return SubmitOutcome{}, err
	}

	counterparty, err := s.confirmingMember(ctx, p, caller)
	if err != nil {
		if _, ok := model.AsValidation(err); !ok {
			s.tracker.Restore(p)
		}
		_ = s.saveState(ctx)
		return SubmitOutcome{}, err
	}

	initiator := Party{ID: p.InitiatorID, Handle: p.InitiatorHandle}
	out, err := s.commit(ctx, p.Kind, initiator, counterparty, p.Note, p.EvidenceLink)
	if err != nil {
		if _, ok := model.AsValidation(err); !ok {
			s.tracker.Restore(p)
		}
		_ = s.saveState(ctx)
		return SubmitOutcome{}, err
	}

	_ = s.saveState(ctx)
	out.Pending = &p
	return out, nil
}

func (s *Service) confirmingMember(ctx context.Context, p model.PendingConfirmation, caller Party) (Party, error) {
	member, err := s.resolver.Resolve(ctx, model.Reference{Kind: model.RefID, ID: caller.ID})
	switch {
	case errors.Is(err, resolver.ErrUnresolved):
		return Party{}, model.NewValidationError(model.ReasonUnknownCounterparty, "@"+p.Handle)
	case err != nil:
		return Party{}, fmt.Errorf("resolve addressee: %w", err)
	}

	if err := resolver.Validate(p.InitiatorID, member); err != nil {
		return Party{}, err
	}

	if member.Handle == "" {
		member.Handle = caller.Handle
	}
	return Party{ID: member.ID, Handle: member.Handle}, nil
}

// DeclineConfirmation закрывает запрос по инициативе адресата или автора.
func (s *Service) DeclineConfirmation(ctx context.Context, handle string, caller Party) (model.PendingConfirmation, error) {
	p, err := s.tracker.Decline(handle, caller.ID, caller.Handle)
	if err != nil {
		return model.PendingConfirmation{}, err
	}
	s.logger.Info("confirmation declined", zap.String("handle", p.Handle), zap.Int64("caller_id", caller.ID))
	_ = s.saveState(ctx)
	return p, nil
}

// AbortConfirmation принудительно закрывает запрос. Доступно только администраторам.
func (s *Service) AbortConfirmation(ctx context.Context, adminID int64, handle string) (model.PendingConfirmation, error) {
	if err := s.authorize(adminID); err != nil {
		return model.PendingConfirmation{}, err
	}
	p, err := s.tracker.Abort(handle)
	if err != nil {
		return model.PendingConfirmation{}, err
	}
	s.logger.Info("confirmation aborted", zap.String("handle", p.Handle), zap.Int64("admin_id", adminID))
	_ = s.saveState(ctx)
	return p, nil
}

// SweepConfirmations удаляет запросы старше ConfirmationTTL и возвращает их.
func (s *Service) SweepConfirmations(ctx context.Context) []model.PendingConfirmation {
	expired := s.tracker.Expire(s.now().Add(-s.opts.ConfirmationTTL))
	if len(expired) == 0 {
		return nil
	}
	s.logger.Info("expired pending confirmations", zap.Int("count", len(expired)))
	_ = s.saveState(ctx)
	return expired
}

func (s *Service) commit(ctx context.Context, kind model.ConfirmationKind, initiator, counterparty Party, note, evidence string) (SubmitOutcome, error) {
	switch kind {
	case model.ConfirmExchange:
		r, err := s.RecordExchange(ctx, ExchangeInput{
			Sender:       initiator,
			Recipient:    counterparty,
			Note:         note,
			EvidenceLink: evidence,
		})
		if err != nil {
			return SubmitOutcome{}, err
		}
		return SubmitOutcome{Exchange: &r}, nil
	case model.ConfirmGift:
		r, err := s.RecordGift(ctx, GiftInput{
			Giver:        initiator,
			Recipient:    counterparty,
			Note:         note,
			EvidenceLink: evidence,
		})
		if err != nil {
			return SubmitOutcome{}, err
		}
		return SubmitOutcome{Gift: &r}, nil
	default:
		return SubmitOutcome{}, fmt.Errorf("unknown transaction kind %q", kind)
	}
}
