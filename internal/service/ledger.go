package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/points"
	"github.com/mmeshcher/scambi-bot/internal/repository"
)

// ExchangeInput: данные для записи обмена.
type ExchangeInput struct {
	Sender       Party
	Recipient    Party
	Note         string
	EvidenceLink string
}

// GiftInput: данные для записи подарка.
type GiftInput struct {
	Giver        Party
	Recipient    Party
	Note         string
	EvidenceLink string
}

// PartyResult: счётчики участника после изменения.
// Reset при начислении означает переход через порог, при отмене означает отмену такого перехода.
type PartyResult struct {
	User  model.User
	Reset bool
}

// ExchangeReceipt: результат записи обмена.
type ExchangeReceipt struct {
	Exchange      model.Exchange
	Sender        PartyResult
	Recipient     PartyResult
	Notifications []model.MessageRef
}

// GiftReceipt: результат записи или принятия подарка.
// Sender и Recipient заполнены только если подарки влияют на баллы.
type GiftReceipt struct {
	Gift          model.Gift
	Sender        *PartyResult
	Recipient     *PartyResult
	Notifications []model.MessageRef
}

// RecordExchange атомарно начисляет баллы обоим участникам и сохраняет обмен.
func (s *Service) RecordExchange(ctx context.Context, in ExchangeInput) (ExchangeReceipt, error) {
	if err := checkParties(in.Sender.ID, in.Recipient.ID, in.Note); err != nil {
		return ExchangeReceipt{}, err
	}

	var receipt ExchangeReceipt
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		sender, recipient, err := s.applyIncrement(ctx, tx, in.Sender, in.Recipient)
		if err != nil {
			return err
		}

		ex := model.Exchange{
			Member1:      in.Sender.ID,
			Member2:      in.Recipient.ID,
			Handle1:      in.Sender.Handle,
			Handle2:      in.Recipient.Handle,
			Note:         strings.TrimSpace(in.Note),
			EvidenceLink: in.EvidenceLink,
		}
		if err := tx.InsertExchange(ctx, &ex); err != nil {
			return err
		}

		receipt = ExchangeReceipt{Exchange: ex, Sender: sender, Recipient: recipient}
		return nil
	})
	if err != nil {
		return ExchangeReceipt{}, fmt.Errorf("record exchange: %w", err)
	}

	s.logger.Info("exchange recorded",
		zap.Int64("exchange_id", receipt.Exchange.ID),
		zap.Int64("member_1", receipt.Exchange.Member1),
		zap.Int64("member_2", receipt.Exchange.Member2),
	)

	receipt.Notifications = s.notifyResets(ctx, receipt.Sender, receipt.Recipient)
	s.storeNotifications(ctx, false, receipt.Exchange.ID, receipt.Notifications)
	return receipt, nil
}

// RecordGift сохраняет подарок с известным получателем.
func (s *Service) RecordGift(ctx context.Context, in GiftInput) (GiftReceipt, error) {
	if err := checkParties(in.Giver.ID, in.Recipient.ID, in.Note); err != nil {
		return GiftReceipt{}, err
	}

	var receipt GiftReceipt
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		receipt = GiftReceipt{}
		if err := tx.EnsureUser(ctx, in.Giver.ID, in.Giver.Handle); err != nil {
			return err
		}
		if err := tx.EnsureUser(ctx, in.Recipient.ID, in.Recipient.Handle); err != nil {
			return err
		}

		now := s.now()
		recipientID := in.Recipient.ID
		g := model.Gift{
			GiverID:         in.Giver.ID,
			GiverHandle:     in.Giver.Handle,
			RecipientID:     &recipientID,
			RecipientHandle: in.Recipient.Handle,
			Note:            strings.TrimSpace(in.Note),
			EvidenceLink:    in.EvidenceLink,
			AcceptedAt:      &now,
		}
		if err := tx.InsertGift(ctx, &g); err != nil {
			return err
		}
		receipt.Gift = g

		return s.applyGiftPoints(ctx, tx, &receipt, in.Giver, in.Recipient)
	})
	if err != nil {
		return GiftReceipt{}, fmt.Errorf("record gift: %w", err)
	}

	s.logger.Info("gift recorded", zap.Int64("gift_id", receipt.Gift.ID), zap.Int64("giver_id", in.Giver.ID))
	s.finishGift(ctx, &receipt)
	return receipt, nil
}

// OpenGift создаёт подарок-запрос без получателя. Получатель появится при AcceptGift.
func (s *Service) OpenGift(ctx context.Context, giver Party, note, evidenceLink string) (model.Gift, error) {
	if strings.TrimSpace(note) == "" {
		return model.Gift{}, model.NewValidationError(model.ReasonMissingNote, "")
	}

	var g model.Gift
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.EnsureUser(ctx, giver.ID, giver.Handle); err != nil {
			return err
		}
		g = model.Gift{
			GiverID:      giver.ID,
			GiverHandle:  giver.Handle,
			Note:         strings.TrimSpace(note),
			EvidenceLink: evidenceLink,
		}
		return tx.InsertGift(ctx, &g)
	})
	if err != nil {
		return model.Gift{}, fmt.Errorf("open gift: %w", err)
	}

	s.logger.Info("gift request opened", zap.Int64("gift_id", g.ID), zap.Int64("giver_id", giver.ID))
	return g, nil
}

// AcceptGift назначает получателя открытому подарку. Получатель назначается один раз.
func (s *Service) AcceptGift(ctx context.Context, giftID int64, recipient Party) (GiftReceipt, error) {
	var receipt GiftReceipt
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		receipt = GiftReceipt{}
		g, err := tx.LockGift(ctx, giftID)
		if err != nil {
			return err
		}
		if g.State() != model.GiftRequested {
			return model.NewValidationError(model.ReasonGiftNotOpen, string(g.State()))
		}
		if g.GiverID == recipient.ID {
			return model.NewValidationError(model.ReasonSelfReference, "")
		}

		if err := tx.EnsureUser(ctx, recipient.ID, recipient.Handle); err != nil {
			return err
		}
		now := s.now()
		if err := tx.AcceptGift(ctx, giftID, recipient.ID, recipient.Handle, now); err != nil {
			return err
		}

		recipientID := recipient.ID
		g.RecipientID = &recipientID
		g.RecipientHandle = recipient.Handle
		g.AcceptedAt = &now
		receipt.Gift = g

		return s.applyGiftPoints(ctx, tx, &receipt, Party{ID: g.GiverID, Handle: g.GiverHandle}, recipient)
	})
	if err != nil {
		return GiftReceipt{}, fmt.Errorf("accept gift %d: %w", giftID, err)
	}

	s.logger.Info("gift accepted", zap.Int64("gift_id", giftID), zap.Int64("recipient_id", recipient.ID))
	s.finishGift(ctx, &receipt)
	return receipt, nil
}

func (s *Service) applyGiftPoints(ctx context.Context, tx repository.Tx, receipt *GiftReceipt, giver, recipient Party) error {
	if !s.opts.GiftAffectsPoints {
		return nil
	}
	sender, rcpt, err := s.applyIncrement(ctx, tx, giver, recipient)
	if err != nil {
		return err
	}
	receipt.Sender, receipt.Recipient = &sender, &rcpt
	return nil
}

func (s *Service) finishGift(ctx context.Context, receipt *GiftReceipt) {
	if receipt.Sender == nil || receipt.Recipient == nil {
		return
	}
	receipt.Notifications = s.notifyResets(ctx, *receipt.Sender, *receipt.Recipient)
	s.storeNotifications(ctx, true, receipt.Gift.ID, receipt.Notifications)
}

// applyIncrement создаёт недостающих пользователей, блокирует их строки и начисляет по баллу.
func (s *Service) applyIncrement(ctx context.Context, tx repository.Tx, a, b Party) (PartyResult, PartyResult, error) {
	if err := tx.EnsureUser(ctx, a.ID, a.Handle); err != nil {
		return PartyResult{}, PartyResult{}, err
	}
	if err := tx.EnsureUser(ctx, b.ID, b.Handle); err != nil {
		return PartyResult{}, PartyResult{}, err
	}

	users, err := tx.LockUsers(ctx, a.ID, b.ID)
	if err != nil {
		return PartyResult{}, PartyResult{}, err
	}

	ra, err := s.step(ctx, tx, users[a.ID], true)
	if err != nil {
		return PartyResult{}, PartyResult{}, err
	}
	rb, err := s.step(ctx, tx, users[b.ID], true)
	if err != nil {
		return PartyResult{}, PartyResult{}, err
	}
	return ra, rb, nil
}

// applyDecrement отменяет начисление для обоих участников.
func (s *Service) applyDecrement(ctx context.Context, tx repository.Tx, a, b int64) (PartyResult, PartyResult, error) {
	users, err := tx.LockUsers(ctx, a, b)
	if err != nil {
		return PartyResult{}, PartyResult{}, err
	}

	ra, err := s.step(ctx, tx, users[a], false)
	if err != nil {
		return PartyResult{}, PartyResult{}, err
	}
	rb, err := s.step(ctx, tx, users[b], false)
	if err != nil {
		return PartyResult{}, PartyResult{}, err
	}
	return ra, rb, nil
}

func (s *Service) step(ctx context.Context, tx repository.Tx, u model.User, up bool) (PartyResult, error) {
	var reset bool
	if up {
		u.Points, reset = s.counter.Increment(u.Points)
		u.Total = points.IncrementTotal(u.Total)
	} else {
		u.Points, reset = s.counter.Decrement(u.Points)
		u.Total = points.DecrementTotal(u.Total)
	}
	if err := tx.UpdateUserCounters(ctx, u.ID, u.Points, u.Total); err != nil {
		return PartyResult{}, err
	}
	return PartyResult{User: u, Reset: reset}, nil
}

// notifyResets отправляет одно поздравление на транзакцию, если хотя бы один участник перешёл через порог.
func (s *Service) notifyResets(ctx context.Context, parties ...PartyResult) []model.MessageRef {
	var users []model.User
	for _, p := range parties {
		if p.Reset {
			users = append(users, p.User)
		}
	}
	if len(users) == 0 || s.notifier == nil {
		return nil
	}

	ref, err := s.notifier.ThresholdReached(ctx, s.GroupID(), users)
	if err != nil {
		s.logger.Warn("failed to send threshold notification", zap.Int("users", len(users)), zap.Error(err))
		return nil
	}
	return []model.MessageRef{ref}
}

func checkParties(initiatorID, counterpartyID int64, note string) error {
	if counterpartyID == 0 {
		return model.NewValidationError(model.ReasonMissingCounterparty, "")
	}
	if initiatorID == counterpartyID {
		return model.NewValidationError(model.ReasonSelfReference, "")
	}
	if strings.TrimSpace(note) == "" {
		return model.NewValidationError(model.ReasonMissingNote, "")
	}
	return nil
}
