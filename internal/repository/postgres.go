// Package repository содержит хранилища клиентского состояния и реестра вызовов помощи.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/smartcart/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrStateNotFound возвращается, если по ключу ничего не сохранено.
var (
	ErrStateNotFound = errors.New("state not found")
	// ErrRequestNotFound возвращается, если вызов помощи с таким идентификатором не найден.
	ErrRequestNotFound = errors.New("assistance request not found")
)

// PostgresRepository хранит клиентское состояние и вызовы помощи в PostgreSQL.
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

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || i == len(retryDelays) || !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Load возвращает сохранённое значение по ключу.
func (r *PostgresRepository) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, `SELECT value FROM client_state WHERE key = $1`, key).Scan(&value)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return value, nil
}

// Save сохраняет значение по ключу, перезаписывая предыдущее.
func (r *PostgresRepository) Save(ctx context.Context, key string, value []byte) error {
	err := withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO client_state (key, value, updated_at) VALUES ($1, $2, NOW())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			key, value,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Delete удаляет значение по ключу. Отсутствие значения не считается ошибкой.
func (r *PostgresRepository) Delete(ctx context.Context, key string) error {
	err := withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM client_state WHERE key = $1`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// InsertRequest сохраняет новый вызов помощи.
func (r *PostgresRepository) InsertRequest(ctx context.Context, req model.AssistanceRequest) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO assistance_requests (id, cart_code, customer_name, requested_at, resolved, assigned_to)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.CartCode, req.CustomerName, req.RequestedAt, req.Resolved, req.AssignedTo,
	)
	if err != nil {
		return fmt.Errorf("insert assistance request: %w", err)
	}
	return nil
}

// DeleteUnresolved удаляет все нерешённые вызовы тележки и возвращает их количество.
func (r *PostgresRepository) DeleteUnresolved(ctx context.Context, cartCode string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM assistance_requests WHERE cart_code = $1 AND NOT resolved`,
		cartCode,
	)
	if err != nil {
		return 0, fmt.Errorf("delete assistance requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResolveRequest помечает вызов решённым.
func (r *PostgresRepository) ResolveRequest(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE assistance_requests SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("resolve assistance request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// AssignRequest назначает сотрудника на вызов.
func (r *PostgresRepository) AssignRequest(ctx context.Context, id, staffName string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE assistance_requests SET assigned_to = $2 WHERE id = $1`, id, staffName)
	if err != nil {
		if isInvalidUUID(err) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("assign assistance request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation
}

// ListRequests возвращает все вызовы помощи в порядке поступления.
func (r *PostgresRepository) ListRequests(ctx context.Context) ([]model.AssistanceRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, cart_code, customer_name, requested_at, resolved, assigned_to
		 FROM assistance_requests
		 ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("select assistance requests: %w", err)
	}
	defer rows.Close()

	var res []model.AssistanceRequest
	for rows.Next() {
		var req model.AssistanceRequest
		if err := rows.Scan(&req.ID, &req.CartCode, &req.CustomerName, &req.RequestedAt, &req.Resolved, &req.AssignedTo); err != nil {
			return nil, fmt.Errorf("scan assistance request: %w", err)
		}
		res = append(res, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
