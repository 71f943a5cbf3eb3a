package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/repository"
)

// ExchangeReversal: результат отмены обмена.
// Reset у участника означает, что отмена вернула его счётчик через порог назад.
type ExchangeReversal struct {
	Exchange  model.Exchange
	Member1   PartyResult
	Member2   PartyResult
	Retracted int
}

// GiftReversal: результат отмены подарка.
type GiftReversal struct {
	Gift      model.Gift
	Giver     *PartyResult
	Recipient *PartyResult
	Retracted int
}

// CancelExchange отменяет обмен: снимает по баллу с обоих участников и помечает обмен отменённым.
// Повторная отмена возвращает repository.ErrAlreadyCancelled и ничего не меняет.
func (s *Service) CancelExchange(ctx context.Context, adminID, exchangeID int64) (ExchangeReversal, error) {
	if err := s.authorize(adminID); err != nil {
		return ExchangeReversal{}, err
	}

	var rev ExchangeReversal
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		ex, err := tx.LockExchange(ctx, exchangeID)
		if err != nil {
			return err
		}
		if ex.Cancelled {
			return fmt.Errorf("%w: exchange %d", repository.ErrAlreadyCancelled, exchangeID)
		}

		m1, m2, err := s.applyDecrement(ctx, tx, ex.Member1, ex.Member2)
		if err != nil {
			return err
		}
		if err := tx.CancelExchange(ctx, exchangeID); err != nil {
			return err
		}

		ex.Cancelled = true
		rev = ExchangeReversal{Exchange: ex, Member1: m1, Member2: m2}
		return nil
	})
	if err != nil {
		return ExchangeReversal{}, fmt.Errorf("cancel exchange %d: %w", exchangeID, err)
	}

	s.logger.Info("exchange cancelled", zap.Int64("exchange_id", exchangeID), zap.Int64("admin_id", adminID))

	if rev.Member1.Reset || rev.Member2.Reset {
		rev.Retracted = s.retractNotifications(ctx, false, exchangeID)
	}
	return rev, nil
}

// CancelGift помечает подарок отменённым. Баллы снимаются, только если подарки
// влияют на баллы и подарок уже был принят.
func (s *Service) CancelGift(ctx context.Context, adminID, giftID int64) (GiftReversal, error) {
	if err := s.authorize(adminID); err != nil {
		return GiftReversal{}, err
	}

	var rev GiftReversal
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		rev = GiftReversal{}
		g, err := tx.LockGift(ctx, giftID)
		if err != nil {
			return err
		}
		if g.Cancelled {
			return fmt.Errorf("%w: gift %d", repository.ErrAlreadyCancelled, giftID)
		}

		if s.opts.GiftAffectsPoints && g.RecipientID != nil {
			giver, recipient, err := s.applyDecrement(ctx, tx, g.GiverID, *g.RecipientID)
			if err != nil {
				return err
			}
			rev.Giver, rev.Recipient = &giver, &recipient
		}
		if err := tx.CancelGift(ctx, giftID); err != nil {
			return err
		}

		g.Cancelled = true
		rev.Gift = g
		return nil
	})
	if err != nil {
		return GiftReversal{}, fmt.Errorf("cancel gift %d: %w", giftID, err)
	}

	s.logger.Info("gift cancelled", zap.Int64("gift_id", giftID), zap.Int64("admin_id", adminID))

	if (rev.Giver != nil && rev.Giver.Reset) || (rev.Recipient != nil && rev.Recipient.Reset) {
		rev.Retracted = s.retractNotifications(ctx, true, giftID)
	}
	return rev, nil
}
