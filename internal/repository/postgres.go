// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrExchangeNotFound возвращается, если обмен с указанным id отсутствует.
	ErrExchangeNotFound = errors.New("exchange not found")
	// ErrGiftNotFound возвращается, если подарок с указанным id отсутствует.
	ErrGiftNotFound = errors.New("gift not found")
	// ErrAlreadyCancelled возвращается при повторной отмене.
	ErrAlreadyCancelled = errors.New("already cancelled")
	// ErrGiftAlreadyAccepted возвращается, если у подарка уже есть получатель.
	ErrGiftAlreadyAccepted = errors.New("gift already accepted")
	// ErrStateNotFound возвращается, если состояние приложения ещё не сохранялось.
	ErrStateNotFound = errors.New("application state not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		retryable := isRetryable(err)

		if !retryable || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// commitError: сбой COMMIT. Сервер мог успеть зафиксировать транзакцию,
// поэтому повторять её нельзя.
type commitError struct {
	err error
}

func (e *commitError) Error() string { return "commit tx: " + e.err.Error() }

func (e *commitError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var cErr *commitError
	if errors.As(err, &cErr) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// две транзакции, одновременно задевшие одного пользователя
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	// до сервера ничего не дошло
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx выполняет fn в одной транзакции. При ошибке изменения откатываются,
// при конфликте сериализации вся транзакция повторяется. Сбой самого COMMIT
// не повторяется: исход транзакции неизвестен.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return &commitError{err: err}
		}
		return nil
	})
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, COALESCE(handle, ''), points, total FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.ID, &u.Handle, &u.Points, &u.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ObserveUser запоминает username пользователя, увиденного в группе.
func (r *PostgresRepository) ObserveUser(ctx context.Context, userID int64, handle string) error {
	_, err := r.pool.Exec(ctx, upsertUserSQL, userID, handle)
	if err != nil {
		return fmt.Errorf("observe user: %w", err)
	}
	return nil
}

// LookupUsername возвращает идентификатор последнего пользователя с указанным username.
func (r *PostgresRepository) LookupUsername(ctx context.Context, handle string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM users WHERE LOWER(handle) = LOWER($1) ORDER BY updated_at DESC LIMIT 1`,
		model.NormalizeHandle(handle),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("lookup username: %w", err)
	}
	return id, nil
}

// GetExchange возвращает обмен по идентификатору.
func (r *PostgresRepository) GetExchange(ctx context.Context, id int64) (*model.Exchange, error) {
	ex, err := scanExchange(r.pool.QueryRow(ctx, selectExchangeSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExchangeNotFound
		}
		return nil, fmt.Errorf("get exchange: %w", err)
	}
	return &ex, nil
}

// ExchangesByUser возвращает последние обмены пользователя, включая отменённые.
func (r *PostgresRepository) ExchangesByUser(ctx context.Context, userID int64, limit int) ([]model.Exchange, error) {
	rows, err := r.pool.Query(ctx,
		selectExchangeSQL+`
		 WHERE member_1 = $1 OR member_2 = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select exchanges: %w", err)
	}
	defer rows.Close()

	var res []model.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		res = append(res, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetGift возвращает подарок по идентификатору.
func (r *PostgresRepository) GetGift(ctx context.Context, id int64) (*model.Gift, error) {
	g, err := scanGift(r.pool.QueryRow(ctx, selectGiftSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGiftNotFound
		}
		return nil, fmt.Errorf("get gift: %w", err)
	}
	return &g, nil
}

// GiftsByUser возвращает подарки, сделанные или полученные пользователем.
func (r *PostgresRepository) GiftsByUser(ctx context.Context, userID int64, limit int) ([]model.Gift, error) {
	rows, err := r.pool.Query(ctx,
		selectGiftSQL+`
		 WHERE giver_id = $1 OR recipient_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select gifts: %w", err)
	}
	defer rows.Close()

	var res []model.Gift
	for rows.Next() {
		g, err := scanGift(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gift: %w", err)
		}
		res = append(res, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// LoadState читает состояние приложения.
func (r *PostgresRepository) LoadState(ctx context.Context) (*model.AppState, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM persistence WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	return decodeState(data)
}

// decodeState разбирает документ состояния. Пустой документ ({} или пустая
// строка) остаётся после неудачного первого запуска и считается отсутствующим.
func decodeState(data []byte) (*model.AppState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrStateNotFound
	}

	var s model.AppState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if s.IsZero() {
		return nil, ErrStateNotFound
	}
	return &s, nil
}

// SaveState перезаписывает состояние приложения.
func (r *PostgresRepository) SaveState(ctx context.Context, s *model.AppState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO persistence (id, data) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

const upsertUserSQL = `INSERT INTO users (user_id, handle) VALUES ($1, NULLIF($2, ''))
	ON CONFLICT (user_id) DO UPDATE
	SET handle = COALESCE(EXCLUDED.handle, users.handle), updated_at = NOW()`

const selectExchangeSQL = `SELECT id, member_1, member_2, COALESCE(handle_1, ''), COALESCE(handle_2, ''),
	note, evidence_link, created_at, cancelled
	FROM exchanges`

const selectGiftSQL = `SELECT id, giver_id, COALESCE(giver_handle, ''), recipient_id, COALESCE(recipient_handle, ''),
	note, evidence_link, created_at, accepted_at, cancelled
	FROM gifts`

func scanExchange(row pgx.Row) (model.Exchange, error) {
	var ex model.Exchange
	err := row.Scan(&ex.ID, &ex.Member1, &ex.Member2, &ex.Handle1, &ex.Handle2,
		&ex.Note, &ex.EvidenceLink, &ex.CreatedAt, &ex.Cancelled)
	return ex, err
}

func scanGift(row pgx.Row) (model.Gift, error) {
	var g model.Gift
	err := row.Scan(&g.ID, &g.GiverID, &g.GiverHandle, &g.RecipientID, &g.RecipientHandle,
		&g.Note, &g.EvidenceLink, &g.CreatedAt, &g.AcceptedAt, &g.Cancelled)
	return g, err
}
