package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

// Tx: операции, выполняемые внутри одной транзакции WithTx.
// Строки, полученные через Lock*, остаются заблокированными до конца транзакции.
type Tx interface {
	EnsureUser(ctx context.Context, userID int64, handle string) error
	LockUsers(ctx context.Context, ids ...int64) (map[int64]model.User, error)
	UpdateUserCounters(ctx context.Context, userID int64, points, total int) error

	InsertExchange(ctx context.Context, ex *model.Exchange) error
	LockExchange(ctx context.Context, id int64) (model.Exchange, error)
	CancelExchange(ctx context.Context, id int64) error

	InsertGift(ctx context.Context, g *model.Gift) error
	LockGift(ctx context.Context, id int64) (model.Gift, error)
	AcceptGift(ctx context.Context, id, recipientID int64, recipientHandle string, at time.Time) error
	CancelGift(ctx context.Context, id int64) error
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) EnsureUser(ctx context.Context, userID int64, handle string) error {
	if _, err := t.tx.Exec(ctx, upsertUserSQL, userID, handle); err != nil {
		return fmt.Errorf("upsert user %d: %w", userID, err)
	}
	return nil
}

// LockUsers блокирует строки в порядке возрастания id, чтобы встречные обмены не ловили взаимоблокировку.
func (t *pgTx) LockUsers(ctx context.Context, ids ...int64) (map[int64]model.User, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id, COALESCE(handle, ''), points, total
		 FROM users
		 WHERE user_id = ANY($1)
		 ORDER BY user_id
		 FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("lock users: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]model.User, len(ids))
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Handle, &u.Points, &u.Total); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, id := range ids {
		if _, ok := res[id]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
		}
	}
	return res, nil
}

func (t *pgTx) UpdateUserCounters(ctx context.Context, userID int64, points, total int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET points = $2, total = $3, updated_at = NOW() WHERE user_id = $1`,
		userID, points, total,
	)
	if err != nil {
		return fmt.Errorf("update user counters: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	return nil
}

func (t *pgTx) InsertExchange(ctx context.Context, ex *model.Exchange) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO exchanges (member_1, member_2, handle_1, handle_2, note, evidence_link)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		 RETURNING id, created_at`,
		ex.Member1, ex.Member2, ex.Handle1, ex.Handle2, ex.Note, ex.EvidenceLink,
	).Scan(&ex.ID, &ex.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

func (t *pgTx) LockExchange(ctx context.Context, id int64) (model.Exchange, error) {
	ex, err := scanExchange(t.tx.QueryRow(ctx, selectExchangeSQL+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Exchange{}, fmt.Errorf("%w: %d", ErrExchangeNotFound, id)
		}
		return model.Exchange{}, fmt.Errorf("lock exchange: %w", err)
	}
	return ex, nil
}

func (t *pgTx) CancelExchange(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE exchanges SET cancelled = TRUE WHERE id = $1 AND NOT cancelled`,
		id,
	)
	if err != nil {
		return fmt.Errorf("cancel exchange: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: exchange %d", ErrAlreadyCancelled, id)
	}
	return nil
}

func (t *pgTx) InsertGift(ctx context.Context, g *model.Gift) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO gifts (giver_id, giver_handle, recipient_id, recipient_handle, note, evidence_link, accepted_at)
		 VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, $7)
		 RETURNING id, created_at`,
		g.GiverID, g.GiverHandle, g.RecipientID, g.RecipientHandle, g.Note, g.EvidenceLink, g.AcceptedAt,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert gift: %w", err)
	}
	return nil
}

func (t *pgTx) LockGift(ctx context.Context, id int64) (model.Gift, error) {
	g, err := scanGift(t.tx.QueryRow(ctx, selectGiftSQL+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Gift{}, fmt.Errorf("%w: %d", ErrGiftNotFound, id)
		}
		return model.Gift{}, fmt.Errorf("lock gift: %w", err)
	}
	return g, nil
}

func (t *pgTx) AcceptGift(ctx context.Context, id, recipientID int64, recipientHandle string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE gifts SET recipient_id = $2, recipient_handle = NULLIF($3, ''), accepted_at = $4
		 WHERE id = $1 AND recipient_id IS NULL AND NOT cancelled`,
		id, recipientID, recipientHandle, at,
	)
	if err != nil {
		return fmt.Errorf("accept gift: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: gift %d", ErrGiftAlreadyAccepted, id)
	}
	return nil
}

func (t *pgTx) CancelGift(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE gifts SET cancelled = TRUE WHERE id = $1 AND NOT cancelled`,
		id,
	)
	if err != nil {
		return fmt.Errorf("cancel gift: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: gift %d", ErrAlreadyCancelled, id)
	}
	return nil
}
