package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/goaltracker/internal/metrics"
	"github.com/mmeshcher/goaltracker/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const backendPostgres = "postgres"

const (
	accountColumns = `id, username, email, password_hash, balance, created_at, updated_at`
	taskColumns    = `id, user_id, title, description, deadline, type, mode, deposit, payment_status,
		completed, cancelled, completed_at, cancelled_at, created_at`
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

// inTx выполняет fn в транзакции. Конфликты сериализации, дедлоки и обрывы
// соединения повторяются с экспоненциальной задержкой.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := pgx.BeginFunc(ctx, r.pool, fn)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
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
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// CreateAccount создаёт счёт и пустую серию для него.
func (r *PostgresRepository) CreateAccount(ctx context.Context, a *model.Account) error {
	defer metrics.TrackStoreOperation("create_account", backendPostgres).ObserveDuration()

	balance, err := toCents(a.Balance)
	if err != nil {
		return err
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO accounts (username, email, password_hash, balance) VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at, updated_at`,
			a.Username, a.Email, a.PasswordHash, balance,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrUserExists, a.Username)
			}
			return fmt.Errorf("create account: %w", err)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO streaks (account_id) VALUES ($1)`, a.ID); err != nil {
			return fmt.Errorf("create streak: %w", err)
		}

		a.Transactions = []model.Transaction{}
		return nil
	})
}

// GetAccount возвращает счёт вместе с журналом операций.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	defer metrics.TrackStoreOperation("get_account", backendPostgres).ObserveDuration()

	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	a.Transactions, err = loadTransactions(ctx, r.pool, a.ID)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// GetAccountByUsername возвращает счёт по имени пользователя.
func (r *PostgresRepository) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	defer metrics.TrackStoreOperation("get_account", backendPostgres).ObserveDuration()

	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username))
	if err != nil {
		return nil, err
	}

	a.Transactions, err = loadTransactions(ctx, r.pool, a.ID)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// UpdateAccount изменяет профиль. Nil-поля не меняются.
func (r *PostgresRepository) UpdateAccount(ctx context.Context, id int64, upd model.AccountUpdate) (*model.Account, error) {
	defer metrics.TrackStoreOperation("update_account", backendPostgres).ObserveDuration()

	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts
		 SET username = COALESCE($2, username),
		     email = COALESCE($3, email),
		     password_hash = COALESCE($4, password_hash),
		     updated_at = now()
		 WHERE id = $1`,
		id, upd.Username, upd.Email, upd.PasswordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, *upd.Username)
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAccountNotFound
	}

	return r.GetAccount(ctx, id)
}

// DeleteAccount удаляет счёт. Задачи, журнал и серия удаляются каскадно.
func (r *PostgresRepository) DeleteAccount(ctx context.Context, id int64) error {
	defer metrics.TrackStoreOperation("delete_account", backendPostgres).ObserveDuration()

	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ApplyTransaction изменяет баланс счёта и добавляет запись в журнал.
func (r *PostgresRepository) ApplyTransaction(ctx context.Context, accountID int64, entry model.Transaction) (*model.Account, error) {
	defer metrics.TrackStoreOperation("apply_transaction", backendPostgres).ObserveDuration()

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		return applyLedger(ctx, tx, accountID, entry, ErrAccountNotFound)
	})
	if err != nil {
		return nil, err
	}

	return r.GetAccount(ctx, accountID)
}

// CreateTask сохраняет задачу. Если hold не nil, залог списывается со счёта владельца в той же транзакции.
func (r *PostgresRepository) CreateTask(ctx context.Context, task *model.Task, hold *model.Transaction) error {
	defer metrics.TrackStoreOperation("create_task", backendPostgres).ObserveDuration()

	deposit, err := depositCents(task.Deposit)
	if err != nil {
		return err
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		if hold != nil {
			if err := applyLedger(ctx, tx, task.UserID, *hold, ErrAccountNotFound); err != nil {
				return err
			}
		} else {
			var one int
			err := tx.QueryRow(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR SHARE`, task.UserID).Scan(&one)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			if err != nil {
				return fmt.Errorf("lock account: %w", err)
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO tasks (`+taskColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			task.ID, task.UserID, task.Title, task.Description, task.Deadline.In(time.UTC),
			string(task.Type), string(task.Mode), deposit, string(task.PaymentStatus),
			task.Completed, task.Cancelled, task.CompletedAt, task.CancelledAt, task.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		return nil
	})
}

// GetTask возвращает задачу по идентификатору.
func (r *PostgresRepository) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	defer metrics.TrackStoreOperation("get_task", backendPostgres).ObserveDuration()

	task, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	return &task, nil
}

// GetTasksByUser возвращает задачи пользователя, новые первыми.
func (r *PostgresRepository) GetTasksByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	defer metrics.TrackStoreOperation("get_tasks", backendPostgres).ObserveDuration()

	return queryTasks(ctx, r.pool,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID,
	)
}

// ListOverdueTasks возвращает открытые задачи с внесённым залогом и сроком раньше before.
func (r *PostgresRepository) ListOverdueTasks(ctx context.Context, before civil.Date, limit int) ([]model.Task, error) {
	defer metrics.TrackStoreOperation("list_overdue", backendPostgres).ObserveDuration()

	return queryTasks(ctx, r.pool,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE NOT completed AND NOT cancelled AND payment_status = $1 AND deadline < $2
		 ORDER BY deadline
		 LIMIT $3`,
		string(model.PaymentStatusPaid), before.In(time.UTC), limit,
	)
}

// UpdateTask блокирует задачу, применяет mutate и сохраняет результат вместе с его побочными эффектами.
func (r *PostgresRepository) UpdateTask(ctx context.Context, id uuid.UUID, mutate model.TaskMutator) (*model.Task, error) {
	defer metrics.TrackStoreOperation("update_task", backendPostgres).ObserveDuration()

	var updated model.Task

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		task, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTaskNotFound
			}
			return fmt.Errorf("lock task: %w", err)
		}

		effects, err := mutate(&task)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE tasks
			 SET title = $2, description = $3, deadline = $4, type = $5, payment_status = $6,
			     completed = $7, cancelled = $8, completed_at = $9, cancelled_at = $10
			 WHERE id = $1`,
			task.ID, task.Title, task.Description, task.Deadline.In(time.UTC), string(task.Type),
			string(task.PaymentStatus), task.Completed, task.Cancelled, task.CompletedAt, task.CancelledAt,
		)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if effects != nil && effects.Ledger != nil {
			if err := applyLedger(ctx, tx, task.UserID, *effects.Ledger, ErrInconsistentState); err != nil {
				return err
			}
		}

		if effects != nil && effects.Streak != nil {
			if err := updateStreak(ctx, tx, task.UserID, effects.Streak); err != nil {
				return err
			}
		}

		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// DeleteTask удаляет одну задачу.
func (r *PostgresRepository) DeleteTask(ctx context.Context, id uuid.UUID) error {
	defer metrics.TrackStoreOperation("delete_task", backendPostgres).ObserveDuration()

	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteTasksByUser удаляет все задачи пользователя и возвращает их количество.
func (r *PostgresRepository) DeleteTasksByUser(ctx context.Context, userID int64) (int64, error) {
	defer metrics.TrackStoreOperation("delete_tasks", backendPostgres).ObserveDuration()

	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetStreak возвращает сохранённую серию пользователя.
func (r *PostgresRepository) GetStreak(ctx context.Context, accountID int64) (model.Streak, error) {
	defer metrics.TrackStoreOperation("get_streak", backendPostgres).ObserveDuration()

	s, err := scanStreak(r.pool.QueryRow(ctx,
		`SELECT current_streak, best_streak, last_date FROM streaks WHERE account_id = $1`,
		accountID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Streak{}, nil
		}
		return model.Streak{}, fmt.Errorf("get streak: %w", err)
	}

	return s, nil
}

// applyLedger блокирует строку счёта, проверяет баланс и добавляет запись в журнал.
func applyLedger(ctx context.Context, tx pgx.Tx, accountID int64, entry model.Transaction, missing error) error {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return missing
		}
		return fmt.Errorf("lock account for update: %w", err)
	}

	delta, err := toCents(entry.Amount)
	if err != nil {
		return err
	}
	next, ok := addCents(balance, delta)
	if !ok {
		return fmt.Errorf("%w: balance %d%+d", ErrAmountOutOfRange, balance, delta)
	}
	if next < 0 {
		return ErrInsufficientBalance
	}

	if delta != 0 {
		_, err = tx.Exec(ctx,
			`UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`,
			accountID, next,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (account_id, task_id, amount, type, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID, entry.TaskID, delta, string(entry.Type), entry.Description, entry.Date,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func updateStreak(ctx context.Context, tx pgx.Tx, accountID int64, fn func(model.Streak) model.Streak) error {
	s, err := scanStreak(tx.QueryRow(ctx,
		`SELECT current_streak, best_streak, last_date FROM streaks WHERE account_id = $1 FOR UPDATE`,
		accountID,
	))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock streak: %w", err)
	}

	next := fn(s)

	var lastDate any
	if !next.LastDate.IsZero() {
		lastDate = next.LastDate.In(time.UTC)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO streaks (account_id, current_streak, best_streak, last_date) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id) DO UPDATE
		 SET current_streak = EXCLUDED.current_streak, best_streak = EXCLUDED.best_streak, last_date = EXCLUDED.last_date`,
		accountID, next.Current, next.Best, lastDate,
	)
	if err != nil {
		return fmt.Errorf("save streak: %w", err)
	}

	return nil
}

func loadTransactions(ctx context.Context, q querier, accountID int64) ([]model.Transaction, error) {
	rows, err := q.Query(ctx,
		`SELECT amount, type, description, created_at, task_id
		 FROM transactions
		 WHERE account_id = $1
		 ORDER BY id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	res := []model.Transaction{}
	for rows.Next() {
		var (
			amount int64
			typ    string
			t      model.Transaction
		)
		if err := rows.Scan(&amount, &typ, &t.Description, &t.Date, &t.TaskID); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Amount = fromCents(amount)
		t.Type = model.TransactionType(typ)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func queryTasks(ctx context.Context, q querier, sql string, args ...any) ([]model.Task, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	res := []model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		res = append(res, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanAccount(row scanner) (*model.Account, error) {
	var (
		a       model.Account
		balance int64
	)
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.Balance = fromCents(balance)
	return &a, nil
}

func scanTask(row scanner) (model.Task, error) {
	var (
		t        model.Task
		deadline time.Time
		typ      string
		mode     string
		status   string
		deposit  *int64
	)

	err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &deadline, &typ, &mode, &deposit, &status,
		&t.Completed, &t.Cancelled, &t.CompletedAt, &t.CancelledAt, &t.CreatedAt,
	)
	if err != nil {
		return model.Task{}, err
	}

	t.Deadline = civil.DateOf(deadline)
	t.Type = model.TaskType(typ)
	t.Mode = model.Mode(mode)
	t.PaymentStatus = model.PaymentStatus(status)
	if deposit != nil {
		t.Deposit = decimal.NewNullDecimal(fromCents(*deposit))
	}

	return t, nil
}

func scanStreak(row scanner) (model.Streak, error) {
	var (
		s    model.Streak
		last *time.Time
	)
	if err := row.Scan(&s.Current, &s.Best, &last); err != nil {
		return model.Streak{}, err
	}
	if last != nil {
		s.LastDate = civil.DateOf(*last)
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// toCents переводит сумму в копейки для хранения в BIGINT.
// Суммы вне диапазона int64 отклоняются с ErrAmountOutOfRange.
func toCents(d decimal.Decimal) (int64, error) {
	c := d.Shift(2).Round(0)
	if c.GreaterThan(maxCents) || c.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOutOfRange, d.String())
	}
	return c.IntPart(), nil
}

// addCents складывает суммы в копейках и сообщает о переполнении.
func addCents(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func depositCents(d decimal.NullDecimal) (*int64, error) {
	if !d.Valid {
		return nil, nil
	}
	c, err := toCents(d.Decimal)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
