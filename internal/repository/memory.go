package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется в тестах
// и при запуске без DATABASE_URI.
type MemoryRepository struct {
	mu   sync.RWMutex
	data memoryData
	now  func() time.Time
}

type memoryUser struct {
	model.User
	updatedAt time.Time
}

type memoryData struct {
	users        map[int64]memoryUser
	exchanges    map[int64]model.Exchange
	gifts        map[int64]model.Gift
	state        *model.AppState
	nextExchange int64
	nextGift     int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data: memoryData{
			users:     make(map[int64]memoryUser),
			exchanges: make(map[int64]model.Exchange),
			gifts:     make(map[int64]model.Gift),
		},
		now: time.Now,
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

// Ping всегда успешен.
func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

// WithTx выполняет fn под эксклюзивной блокировкой; при ошибке данные восстанавливаются из снимка.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&memoryTx{repo: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		users:        make(map[int64]memoryUser, len(d.users)),
		exchanges:    make(map[int64]model.Exchange, len(d.exchanges)),
		gifts:        make(map[int64]model.Gift, len(d.gifts)),
		state:        d.state,
		nextExchange: d.nextExchange,
		nextGift:     d.nextGift,
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.exchanges {
		c.exchanges[k] = v
	}
	for k, v := range d.gifts {
		c.gifts[k] = v
	}
	return c
}

// GetUser возвращает пользователя по идентификатору.
func (m *MemoryRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.data.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	res := u.User
	return &res, nil
}

// ObserveUser запоминает username пользователя.
func (m *MemoryRepository) ObserveUser(ctx context.Context, userID int64, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertUser(userID, handle)
	return nil
}

// LookupUsername возвращает идентификатор последнего пользователя с указанным username.
func (m *MemoryRepository) LookupUsername(ctx context.Context, handle string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := model.NormalizeHandle(handle)
	var (
		found  int64
		latest time.Time
	)
	for id, u := range m.data.users {
		if model.NormalizeHandle(u.Handle) != key || key == "" {
			continue
		}
		if found == 0 || u.updatedAt.After(latest) {
			found, latest = id, u.updatedAt
		}
	}
	if found == 0 {
		return 0, ErrUserNotFound
	}
	return found, nil
}

// GetExchange возвращает обмен по идентификатору.
func (m *MemoryRepository) GetExchange(ctx context.Context, id int64) (*model.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ex, ok := m.data.exchanges[id]
	if !ok {
		return nil, ErrExchangeNotFound
	}
	return &ex, nil
}

// ExchangesByUser возвращает последние обмены пользователя.
func (m *MemoryRepository) ExchangesByUser(ctx context.Context, userID int64, limit int) ([]model.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.Exchange
	for _, ex := range m.data.exchanges {
		if ex.Member1 == userID || ex.Member2 == userID {
			res = append(res, ex)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// GetGift возвращает подарок по идентификатору.
func (m *MemoryRepository) GetGift(ctx context.Context, id int64) (*model.Gift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.data.gifts[id]
	if !ok {
		return nil, ErrGiftNotFound
	}
	return &g, nil
}

// GiftsByUser возвращает подарки, сделанные или полученные пользователем.
func (m *MemoryRepository) GiftsByUser(ctx context.Context, userID int64, limit int) ([]model.Gift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.Gift
	for _, g := range m.data.gifts {
		if g.GiverID == userID || (g.RecipientID != nil && *g.RecipientID == userID) {
			res = append(res, g)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// LoadState возвращает сохранённое состояние приложения.
func (m *MemoryRepository) LoadState(ctx context.Context) (*model.AppState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data.state == nil {
		return nil, ErrStateNotFound
	}
	s := m.data.state.Clone()
	return &s, nil
}

// SaveState сохраняет копию состояния приложения.
func (m *MemoryRepository) SaveState(ctx context.Context, s *model.AppState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := s.Clone()
	m.data.state = &c
	return nil
}

func (m *MemoryRepository) upsertUser(userID int64, handle string) {
	u, ok := m.data.users[userID]
	if !ok {
		u = memoryUser{User: model.User{ID: userID}}
	}
	if handle != "" {
		u.Handle = handle
	}
	u.updatedAt = m.now()
	m.data.users[userID] = u
}

type memoryTx struct {
	repo *MemoryRepository
}

func (t *memoryTx) EnsureUser(ctx context.Context, userID int64, handle string) error {
	t.repo.upsertUser(userID, handle)
	return nil
}

func (t *memoryTx) LockUsers(ctx context.Context, ids ...int64) (map[int64]model.User, error) {
	res := make(map[int64]model.User, len(ids))
	for _, id := range ids {
		u, ok := t.repo.data.users[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
		}
		res[id] = u.User
	}
	return res, nil
}

func (t *memoryTx) UpdateUserCounters(ctx context.Context, userID int64, points, total int) error {
	u, ok := t.repo.data.users[userID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	u.Points, u.Total = points, total
	u.updatedAt = t.repo.now()
	t.repo.data.users[userID] = u
	return nil
}

func (t *memoryTx) InsertExchange(ctx context.Context, ex *model.Exchange) error {
	if ex.Member1 == ex.Member2 {
		return fmt.Errorf("insert exchange: members must differ")
	}
	t.repo.data.nextExchange++
	ex.ID = t.repo.data.nextExchange
	ex.CreatedAt = t.repo.now()
	t.repo.data.exchanges[ex.ID] = *ex
	return nil
}

func (t *memoryTx) LockExchange(ctx context.Context, id int64) (model.Exchange, error) {
	ex, ok := t.repo.data.exchanges[id]
	if !ok {
		return model.Exchange{}, fmt.Errorf("%w: %d", ErrExchangeNotFound, id)
	}
	return ex, nil
}

func (t *memoryTx) CancelExchange(ctx context.Context, id int64) error {
	ex, ok := t.repo.data.exchanges[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrExchangeNotFound, id)
	}
	if ex.Cancelled {
		return fmt.Errorf("%w: exchange %d", ErrAlreadyCancelled, id)
	}
	ex.Cancelled = true
	t.repo.data.exchanges[id] = ex
	return nil
}

func (t *memoryTx) InsertGift(ctx context.Context, g *model.Gift) error {
	if g.RecipientID != nil && *g.RecipientID == g.GiverID {
		return fmt.Errorf("insert gift: members must differ")
	}
	t.repo.data.nextGift++
	g.ID = t.repo.data.nextGift
	g.CreatedAt = t.repo.now()
	t.repo.data.gifts[g.ID] = *g
	return nil
}

func (t *memoryTx) LockGift(ctx context.Context, id int64) (model.Gift, error) {
	g, ok := t.repo.data.gifts[id]
	if !ok {
		return model.Gift{}, fmt.Errorf("%w: %d", ErrGiftNotFound, id)
	}
	return g, nil
}

func (t *memoryTx) AcceptGift(ctx context.Context, id, recipientID int64, recipientHandle string, at time.Time) error {
	g, ok := t.repo.data.gifts[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrGiftNotFound, id)
	}
	if g.RecipientID != nil || g.Cancelled {
		return fmt.Errorf("%w: gift %d", ErrGiftAlreadyAccepted, id)
	}
	g.RecipientID = &recipientID
	g.RecipientHandle = recipientHandle
	g.AcceptedAt = &at
	t.repo.data.gifts[id] = g
	return nil
}

func (t *memoryTx) CancelGift(ctx context.Context, id int64) error {
	g, ok := t.repo.data.gifts[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrGiftNotFound, id)
	}
	if g.Cancelled {
		return fmt.Errorf("%w: gift %d", ErrAlreadyCancelled, id)
	}
	g.Cancelled = true
	t.repo.data.gifts[id] = g
	return nil
}
