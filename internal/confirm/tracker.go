// Package confirm хранит запросы, ожидающие подтверждения контрагентом.
package confirm

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

var (
	// ErrDuplicatePending возвращается при повторном запросе для username, который уже ждёт подтверждения.
	ErrDuplicatePending = errors.New("confirmation already pending for handle")
	// ErrNotPending возвращается, если для username нет ожидающего запроса.
	ErrNotPending = errors.New("no pending confirmation for handle")
	// ErrNotAddressee возвращается, если подтвердить пытается не тот пользователь.
	ErrNotAddressee = errors.New("caller is not the addressee of the confirmation")
	// ErrEmptyHandle возвращается при попытке открыть запрос без username.
	ErrEmptyHandle = errors.New("empty handle")
)

// Tracker: потокобезопасная таблица ожидающих подтверждений.
// Для каждого username существует не больше одной записи.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]model.PendingConfirmation
	now     func() time.Time
}

// NewTracker создаёт пустой Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[string]model.PendingConfirmation),
		now:     time.Now,
	}
}

// Open регистрирует новый запрос. Если для username уже есть запрос,
// состояние не меняется, возвращается существующая запись и ErrDuplicatePending.
func (t *Tracker) Open(p model.PendingConfirmation) (model.PendingConfirmation, error) {
	key := model.NormalizeHandle(p.Handle)
	if key == "" {
		return model.PendingConfirmation{}, ErrEmptyHandle
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.pending[key]; ok {
		return existing, ErrDuplicatePending
	}

	p.Handle = key
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now()
	}
	t.pending[key] = p
	return p, nil
}

// Get возвращает запрос для username.
func (t *Tracker) Get(handle string) (model.PendingConfirmation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[model.NormalizeHandle(handle)]
	return p, ok
}

// AttachPrompt запоминает сообщение с кнопками подтверждения.
func (t *Tracker) AttachPrompt(handle string, ref model.MessageRef) bool {
	key := model.NormalizeHandle(handle)

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[key]
	if !ok {
		return false
	}
	p.Prompt = &ref
	t.pending[key] = p
	return true
}

// Claim извлекает запрос, если callerHandle совпадает с адресатом,
// а initiatorID с автором запроса. Запись удаляется из таблицы.
func (t *Tracker) Claim(handle, callerHandle string, initiatorID int64) (model.PendingConfirmation, error) {
	key := model.NormalizeHandle(handle)

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[key]
	if !ok || p.InitiatorID != initiatorID {
		return model.PendingConfirmation{}, ErrNotPending
	}
	if callerHandle == "" || model.NormalizeHandle(callerHandle) != key {
		return model.PendingConfirmation{}, ErrNotAddressee
	}

	delete(t.pending, key)
	return p, nil
}

// Restore возвращает запрос в таблицу после неудачной фиксации.
// Если за это время для username открыт новый запрос, старый отбрасывается.
func (t *Tracker) Restore(p model.PendingConfirmation) bool {
	key := model.NormalizeHandle(p.Handle)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[key]; ok {
		return false
	}
	t.pending[key] = p
	return true
}

// Decline удаляет запрос по инициативе адресата или автора.
func (t *Tracker) Decline(handle string, callerID int64, callerHandle string) (model.PendingConfirmation, error) {
	key := model.NormalizeHandle(handle)

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[key]
	if !ok {
		return model.PendingConfirmation{}, ErrNotPending
	}
	if callerID != p.InitiatorID && model.NormalizeHandle(callerHandle) != key {
		return model.PendingConfirmation{}, ErrNotAddressee
	}

	delete(t.pending, key)
	return p, nil
}

// Abort принудительно удаляет запрос. Права проверяет вызывающая сторона.
func (t *Tracker) Abort(handle string) (model.PendingConfirmation, error) {
	key := model.NormalizeHandle(handle)

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[key]
	if !ok {
		return model.PendingConfirmation{}, ErrNotPending
	}
	delete(t.pending, key)
	return p, nil
}

// Expire удаляет и возвращает запросы, созданные раньше before.
func (t *Tracker) Expire(before time.Time) []model.PendingConfirmation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []model.PendingConfirmation
	for key, p := range t.pending {
		if p.CreatedAt.Before(before) {
			expired = append(expired, p)
			delete(t.pending, key)
		}
	}
	sortByCreated(expired)
	return expired
}

// Snapshot возвращает копию всех запросов, упорядоченных по времени создания.
func (t *Tracker) Snapshot() []model.PendingConfirmation {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := make([]model.PendingConfirmation, 0, len(t.pending))
	for _, p := range t.pending {
		res = append(res, p)
	}
	sortByCreated(res)
	return res
}

// Load заменяет содержимое таблицы сохранёнными запросами.
func (t *Tracker) Load(items []model.PendingConfirmation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = make(map[string]model.PendingConfirmation, len(items))
	for _, p := range items {
		key := model.NormalizeHandle(p.Handle)
		if key == "" {
			continue
		}
		if _, ok := t.pending[key]; ok {
			continue
		}
		p.Handle = key
		t.pending[key] = p
	}
}

// Len возвращает количество ожидающих запросов.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func sortByCreated(items []model.PendingConfirmation) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
