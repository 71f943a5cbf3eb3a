package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/repository"
)

// InitState загружает состояние приложения из хранилища. Ненулевые поля seed
// (значения из конфигурации) имеют приоритет над сохранёнными.
func (s *Service) InitState(ctx context.Context, seed model.AppState) error {
	loaded, err := s.repo.LoadState(ctx)
	switch {
	case errors.Is(err, repository.ErrStateNotFound):
		loaded = &model.AppState{}
	case err != nil:
		return fmt.Errorf("load state: %w", err)
	}

	st := loaded.Clone()
	if seed.GroupID != 0 {
		st.GroupID = seed.GroupID
	}
	if seed.OwnerID != 0 {
		st.OwnerID = seed.OwnerID
	}
	if seed.AdminID != 0 {
		st.AdminID = seed.AdminID
	}
	if s.opts.DurableConfirmations {
		s.tracker.Load(st.Confirmations)
	}
	st.Confirmations = nil

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	return s.saveState(ctx)
}

// State возвращает копию текущего состояния приложения.
func (s *Service) State() model.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// GroupID возвращает идентификатор обслуживаемой группы.
func (s *Service) GroupID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GroupID
}

// saveState перезаписывает состояние в хранилище. Подтверждения попадают
// в документ только при DurableConfirmations.
func (s *Service) saveState(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	st := s.state.Clone()
	s.mu.Unlock()

	if s.opts.DurableConfirmations {
		st.Confirmations = s.tracker.Snapshot()
	}

	if err := s.repo.SaveState(ctx, &st); err != nil {
		s.logger.Error("failed to save application state", zap.Error(err))
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *Service) storeNotifications(ctx context.Context, gift bool, id int64, refs []model.MessageRef) {
	if len(refs) == 0 {
		return
	}

	s.mu.Lock()
	target := &s.state.Notifications
	if gift {
		target = &s.state.GiftNotifications
	}
	if *target == nil {
		*target = make(map[int64][]model.MessageRef)
	}
	(*target)[id] = append((*target)[id], refs...)
	s.mu.Unlock()

	// ошибка уже в логе saveState
	_ = s.saveState(ctx)
}

// retractNotifications удаляет поздравления, связанные с транзакцией, и возвращает число удалённых.
func (s *Service) retractNotifications(ctx context.Context, gift bool, id int64) int {
	s.mu.Lock()
	target := s.state.Notifications
	if gift {
		target = s.state.GiftNotifications
	}
	refs := target[id]
	delete(target, id)
	s.mu.Unlock()

	if len(refs) == 0 {
		return 0
	}

	retracted := 0
	for _, ref := range refs {
		if s.notifier == nil {
			break
		}
		if err := s.notifier.Retract(ctx, ref); err != nil {
			s.logger.Warn("failed to retract threshold notification",
				zap.Int64("transaction_id", id),
				zap.Int64("chat_id", ref.ChatID),
				zap.Int("message_id", ref.MessageID),
				zap.Error(err),
			)
			continue
		}
		retracted++
	}

	_ = s.saveState(ctx)
	return retracted
}
