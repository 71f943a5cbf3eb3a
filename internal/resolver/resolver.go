// Package resolver определяет контрагента по ссылке из подписи команды.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

// ErrUnresolved возвращается, если контрагента не удалось определить синхронно.
// Это не ошибка для пользователя: запрос уходит в очередь подтверждений.
var ErrUnresolved = errors.New("counterparty unresolved")

// Roster ищет участников группы.
// Если участник не найден, методы возвращают model.ErrMemberNotFound.
type Roster interface {
	MemberByID(ctx context.Context, userID int64) (model.Member, error)
	MemberByHandle(ctx context.Context, handle string) (model.Member, error)
}

// UsernameCache отображает username на последний известный идентификатор.
type UsernameCache interface {
	LookupUsername(ctx context.Context, handle string) (int64, error)
}

// Resolver определяет участника по ссылке.
type Resolver struct {
	roster Roster
	cache  UsernameCache
}

// New создаёт Resolver.
func New(roster Roster, cache UsernameCache) *Resolver {
	return &Resolver{roster: roster, cache: cache}
}

// Resolve возвращает участника, на которого указывает ссылка,
// или ErrUnresolved, если ни один из способов не сработал.
func (r *Resolver) Resolve(ctx context.Context, ref model.Reference) (model.Member, error) {
	switch ref.Kind {
	case model.RefID, model.RefMention:
		return r.byID(ctx, ref.ID)
	case model.RefHandle:
		return r.byHandle(ctx, ref.Handle)
	default:
		return model.Member{}, fmt.Errorf("unknown reference kind %q", ref.Kind)
	}
}

// ResolveID ищет участника по идентификатору.
func (r *Resolver) ResolveID(ctx context.Context, userID int64) (model.Member, error) {
	return r.byID(ctx, userID)
}

func (r *Resolver) byID(ctx context.Context, userID int64) (model.Member, error) {
	m, err := r.roster.MemberByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrMemberNotFound) {
			return model.Member{}, ErrUnresolved
		}
		return model.Member{}, fmt.Errorf("roster lookup by id: %w", err)
	}
	return m, nil
}

func (r *Resolver) byHandle(ctx context.Context, handle string) (model.Member, error) {
	m, err := r.roster.MemberByHandle(ctx, handle)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, model.ErrMemberNotFound) {
		return model.Member{}, fmt.Errorf("roster lookup by handle: %w", err)
	}

	if r.cache == nil {
		return model.Member{}, ErrUnresolved
	}

	userID, err := r.cache.LookupUsername(ctx, model.NormalizeHandle(handle))
	if err != nil || userID == 0 {
		// промах кэша не отличаем от его недоступности: запрос всё равно уйдёт на подтверждение
		return model.Member{}, ErrUnresolved
	}

	m, err = r.byID(ctx, userID)
	if err != nil {
		return model.Member{}, err
	}
	// кэш мог устареть: username теперь принадлежит другому
	if m.Handle != "" && model.NormalizeHandle(m.Handle) != model.NormalizeHandle(handle) {
		return model.Member{}, ErrUnresolved
	}
	return m, nil
}

// Validate проверяет, что найденный участник может быть контрагентом initiatorID.
func Validate(initiatorID int64, m model.Member) error {
	switch {
	case m.ID == initiatorID:
		return model.NewValidationError(model.ReasonSelfReference, "")
	case m.IsBot:
		return model.NewValidationError(model.ReasonBotReference, m.Handle)
	case m.Status != model.StatusActive:
		return model.NewValidationError(model.ReasonInactiveCounterparty, string(m.Status))
	}
	return nil
}
