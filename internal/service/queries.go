package service

import (
	"context"
	"errors"

	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/repository"
)

// HistoryLimit: сколько последних транзакций показывать пользователю.
const HistoryLimit = 20

// UserPoints возвращает счётчики пользователя. Пользователь без транзакций имеет нулевые счётчики.
func (s *Service) UserPoints(ctx context.Context, userID int64) (model.User, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.User{ID: userID}, nil
		}
		return model.User{}, err
	}
	return *u, nil
}

// UserExchanges возвращает последние обмены пользователя, начиная с новых.
func (s *Service) UserExchanges(ctx context.Context, userID int64) ([]model.Exchange, error) {
	return s.repo.ExchangesByUser(ctx, userID, HistoryLimit)
}

// UserGifts возвращает последние подарки пользователя.
func (s *Service) UserGifts(ctx context.Context, userID int64) ([]model.Gift, error) {
	return s.repo.GiftsByUser(ctx, userID, HistoryLimit)
}

// Exchange возвращает обмен по идентификатору.
func (s *Service) Exchange(ctx context.Context, id int64) (*model.Exchange, error) {
	return s.repo.GetExchange(ctx, id)
}

// Gift возвращает подарок по идентификатору.
func (s *Service) Gift(ctx context.Context, id int64) (*model.Gift, error) {
	return s.repo.GetGift(ctx, id)
}

// LookupMember определяет участника по ссылке без проверок контрагента.
func (s *Service) LookupMember(ctx context.Context, ref model.Reference) (model.Member, error) {
	return s.resolver.Resolve(ctx, ref)
}

// ObserveMember обновляет кэш username по сообщению или вступлению в группу.
func (s *Service) ObserveMember(ctx context.Context, userID int64, handle string) error {
	if userID == 0 {
		return nil
	}
	return s.repo.ObserveUser(ctx, userID, handle)
}
