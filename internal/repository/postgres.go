// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/smmshop-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateOrder возвращается при попытке создать второй активный заказ
	// на ту же ссылку и услугу либо заказ с уже известным идентификатором.
	ErrDuplicateOrder = errors.New("duplicate active order")
	// ErrSettingNotFound возвращается, если настройка с указанным ключом не задана.
	ErrSettingNotFound = errors.New("setting not found")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// База может подниматься одновременно с сервисом, пингуем с бэкоффом.
	backoff := retry.WithMaxRetries(4, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpsertUser создаёт пользователя при первом обращении и обновляет его имя.
func (r *PostgresRepository) UpsertUser(ctx context.Context, telegramID int64, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (telegram_id, username) VALUES ($1, $2)
		 ON CONFLICT (telegram_id) DO UPDATE SET username = EXCLUDED.username
		 RETURNING telegram_id, username, balance, total_spent, banned, created_at`,
		telegramID, username,
	)

	var u model.User
	err := row.Scan(&u.TelegramID, &u.Username, &u.BalanceCents, &u.TotalSpentCents, &u.Banned, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT telegram_id, username, balance, total_spent, banned, created_at
		 FROM users WHERE telegram_id = $1`,
		telegramID,
	)

	var u model.User
	err := row.Scan(&u.TelegramID, &u.Username, &u.BalanceCents, &u.TotalSpentCents, &u.Banned, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// DebitBalance атомарно списывает сумму с баланса и увеличивает total_spent.
// Обновление условное: при недостатке средств не меняется ни одно поле.
func (r *PostgresRepository) DebitBalance(ctx context.Context, telegramID int64, amountCents int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET balance = balance - $2, total_spent = total_spent + $2
		 WHERE telegram_id = $1 AND balance >= $2`,
		telegramID, amountCents,
	)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	return nil
}

// CreditBalance безусловно зачисляет сумму на баланс пользователя.
func (r *PostgresRepository) CreditBalance(ctx context.Context, telegramID int64, amountCents int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET balance = balance + $2 WHERE telegram_id = $1`,
		telegramID, amountCents,
	)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetBanned выставляет флаг блокировки пользователя.
func (r *PostgresRepository) SetBanned(ctx context.Context, telegramID int64, banned bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET banned = $2 WHERE telegram_id = $1`,
		telegramID, banned,
	)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// AllUserIDs возвращает идентификаторы всех пользователей для рассылки.
func (r *PostgresRepository) AllUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT telegram_id FROM users WHERE NOT banned ORDER BY telegram_id`)
	if err != nil {
		return nil, fmt.Errorf("select user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// CreateOrder сохраняет новый заказ в статусе pending.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (provider_order_id, user_id, kind, link, quantity, cost, status, provider_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ProviderOrderID, o.UserID, string(o.Kind), o.Link, o.Quantity, o.CostCents, string(o.Status), o.ProviderStatus,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ProviderOrderID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// ActiveOrderExists сообщает, есть ли у пользователя незавершённый заказ
// на ту же ссылку и услугу.
func (r *PostgresRepository) ActiveOrderExists(ctx context.Context, userID int64, link string, kind model.ServiceKind) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM orders
		     WHERE user_id = $1 AND link = $2 AND kind = $3
		       AND status IN ($4, $5)
		 )`,
		userID, link, string(kind),
		string(model.OrderStatusPending), string(model.OrderStatusProcessing),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active order: %w", err)
	}

	return exists, nil
}

// OrdersByUser возвращает последние заказы пользователя.
func (r *PostgresRepository) OrdersByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT provider_order_id, user_id, kind, link, quantity, cost, status, provider_status, created_at, updated_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// OrdersForReconcile возвращает незавершённые заказы, подлежащие сверке,
// начиная с самых старых.
func (r *PostgresRepository) OrdersForReconcile(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT provider_order_id, user_id, kind, link, quantity, cost, status, provider_status, created_at, updated_at
		 FROM orders
		 WHERE status IN ($1, $2)
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusPending), string(model.OrderStatusProcessing), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for reconcile: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var (
			o      model.Order
			kind   string
			status string
		)
		err := rows.Scan(&o.ProviderOrderID, &o.UserID, &kind, &o.Link, &o.Quantity,
			&o.CostCents, &status, &o.ProviderStatus, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Kind = model.ServiceKind(kind)
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// TransitionOrderStatus переводит заказ в новый статус, только если он всё ещё
// находится в ожидаемом прежнем статусе. Возвращает true, если переход применён:
// побочные эффекты (уведомление, возврат средств) допустимы ровно в этом случае.
func (r *PostgresRepository) TransitionOrderStatus(ctx context.Context, providerOrderID string, from, to model.OrderStatus, providerStatus string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $3, provider_status = $4, updated_at = now()
		 WHERE provider_order_id = $1 AND status = $2`,
		providerOrderID, string(from), string(to), providerStatus,
	)
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// CreateDeposit сохраняет заявку на пополнение для ручной проверки.
func (r *PostgresRepository) CreateDeposit(ctx context.Context, d *model.Deposit) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO deposits (id, user_id, amount, proof_file_id) VALUES ($1, $2, $3, $4)`,
		d.ID, d.UserID, d.AmountCents, d.ProofFileID,
	)
	if err != nil {
		return fmt.Errorf("insert deposit: %w", err)
	}

	return nil
}

// Setting возвращает значение настройки по ключу.
func (r *PostgresRepository) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
		}
		return "", fmt.Errorf("get setting: %w", err)
	}

	return value, nil
}

// SetSetting записывает значение настройки, создавая ключ при необходимости.
func (r *PostgresRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}

	return nil
}

// Stats возвращает сводные показатели для админ-панели.
func (r *PostgresRepository) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{OrdersByStatus: make(map[model.OrderStatus]int64)}

	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.Users)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(cost), 0) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
			cost   int64
		)
		if err := rows.Scan(&status, &count, &cost); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.OrdersByStatus[model.OrderStatus(status)] = count
		if model.OrderStatus(status) != model.OrderStatusCancelled {
			stats.RevenueCents += cost
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return stats, nil
}
