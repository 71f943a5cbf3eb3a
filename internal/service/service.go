// Package service реализует учёт обменов и подарков: начисление баллов,
// подтверждения контрагентами и отмену транзакций администраторами.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/confirm"
	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/points"
	"github.com/mmeshcher/scambi-bot/internal/repository"
)

// ErrUnauthorized возвращается, если действие доступно только администраторам.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultConfirmationTTL: срок жизни запроса на подтверждение по умолчанию.
const DefaultConfirmationTTL = 24 * time.Hour

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(repository.Tx) error) error
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	ObserveUser(ctx context.Context, userID int64, handle string) error
	LookupUsername(ctx context.Context, handle string) (int64, error)
	GetExchange(ctx context.Context, id int64) (*model.Exchange, error)
	ExchangesByUser(ctx context.Context, userID int64, limit int) ([]model.Exchange, error)
	GetGift(ctx context.Context, id int64) (*model.Gift, error)
	GiftsByUser(ctx context.Context, userID int64, limit int) ([]model.Gift, error)
	LoadState(ctx context.Context) (*model.AppState, error)
	SaveState(ctx context.Context, s *model.AppState) error
}

// Resolver определяет контрагента по ссылке из подписи.
type Resolver interface {
	Resolve(ctx context.Context, ref model.Reference) (model.Member, error)
}

// Notifier отправляет и удаляет поздравления с достижением порога.
// ThresholdReached вызывается один раз на транзакцию со всеми участниками, перешедшими через порог.
type Notifier interface {
	ThresholdReached(ctx context.Context, chatID int64, users []model.User) (model.MessageRef, error)
	Retract(ctx context.Context, ref model.MessageRef) error
}

// Options: настраиваемое поведение сервиса.
type Options struct {
	Threshold int
	// GiftAffectsPoints включает начисление баллов за подарки так же, как за обмены.
	GiftAffectsPoints bool
	// DurableConfirmations сохраняет ожидающие подтверждения вместе с состоянием приложения.
	DurableConfirmations bool
	ConfirmationTTL      time.Duration
}

// Service содержит бизнес-логику бота.
type Service struct {
	repo     Repository
	resolver Resolver
	tracker  *confirm.Tracker
	notifier Notifier
	counter  points.Counter
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	state model.AppState
	// saveMu упорядочивает записи состояния: снимок и запись идут под ним вместе
	saveMu sync.Mutex
}

// NewService создаёт сервис. Нулевые значения Options заменяются значениями по умолчанию.
func NewService(repo Repository, res Resolver, tracker *confirm.Tracker, notifier Notifier, logger *zap.Logger, opts Options) (*Service, error) {
	if opts.Threshold == 0 {
		opts.Threshold = points.DefaultThreshold
	}
	if opts.ConfirmationTTL <= 0 {
		opts.ConfirmationTTL = DefaultConfirmationTTL
	}
	counter, err := points.NewCounter(opts.Threshold)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = confirm.NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		resolver: res,
		tracker:  tracker,
		notifier: notifier,
		counter:  counter,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Threshold возвращает порог обнуления счётчика.
func (s *Service) Threshold() int {
	return s.counter.Threshold
}

// IsAdmin проверяет, входит ли пользователь в список администраторов.
func (s *Service) IsAdmin(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsAdmin(userID)
}

func (s *Service) authorize(userID int64) error {
	if !s.IsAdmin(userID) {
		return fmt.Errorf("%w: user %d", ErrUnauthorized, userID)
	}
	return nil
}

// Party: участник транзакции.
type Party struct {
	ID     int64
	Handle string
}
