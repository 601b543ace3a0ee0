// Package service реализует бизнес-логику трекера целей: счета, задачи с залогом,
// серии выполнения и подсказки коуча.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/goaltracker/internal/coach"
	"github.com/mmeshcher/goaltracker/internal/lifecycle"
	"github.com/mmeshcher/goaltracker/internal/metrics"
	"github.com/mmeshcher/goaltracker/internal/model"
	"github.com/mmeshcher/goaltracker/internal/payment"
	"github.com/mmeshcher/goaltracker/internal/repository"
	"github.com/mmeshcher/goaltracker/internal/streak"
	"github.com/mmeshcher/goaltracker/internal/validation"
)

var (
	// ErrForbidden возвращается, если пользователь обращается к чужим данным.
	ErrForbidden = errors.New("access denied")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const sweepBatchSize = 100

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)
	UpdateAccount(ctx context.Context, id int64, upd model.AccountUpdate) (*model.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	ApplyTransaction(ctx context.Context, accountID int64, entry model.Transaction) (*model.Account, error)

	CreateTask(ctx context.Context, task *model.Task, hold *model.Transaction) error
	GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error)
	GetTasksByUser(ctx context.Context, userID int64) ([]model.Task, error)
	UpdateTask(ctx context.Context, id uuid.UUID, mutate model.TaskMutator) (*model.Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	DeleteTasksByUser(ctx context.Context, userID int64) (int64, error)
	ListOverdueTasks(ctx context.Context, before civil.Date, limit int) ([]model.Task, error)

	GetStreak(ctx context.Context, accountID int64) (model.Streak, error)
}

// PaymentGateway авторизует списание залога.
type PaymentGateway interface {
	Charge(ctx context.Context, accountID int64, amount decimal.Decimal) error
}

// Coach генерирует подсказку по целям.
type Coach interface {
	Suggest(ctx context.Context, prompt string) (string, error)
}

// Options задаёт параметры сервиса.
type Options struct {
	StartingBalance decimal.Decimal
	// Location задаёт часовой пояс, в котором считаются календарные дни серий и сроков.
	Location *time.Location
	Policy   lifecycle.Policy
	Now      func() time.Time
}

// Service содержит бизнес-логику трекера целей.
type Service struct {
	repo     Repository
	payments PaymentGateway
	coach    Coach
	logger   *zap.Logger
	opts     Options
}

// NewService создаёт новый сервис. payments и coach могут быть nil: тогда залоги
// не авторизуются, а подсказки недоступны.
func NewService(repo Repository, payments PaymentGateway, coach Coach, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:     repo,
		payments: payments,
		coach:    coach,
		logger:   logger,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

func authorize(callerID, ownerID int64) error {
	if callerID != ownerID {
		return ErrForbidden
	}
	return nil
}

// RegisterAccount создаёт учётную запись со стартовым балансом.
func (s *Service) RegisterAccount(ctx context.Context, d model.AccountDraft) (*model.Account, error) {
	if err := validation.Account(d); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(d.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &model.Account{
		Username:     strings.TrimSpace(d.Username),
		Email:        strings.TrimSpace(d.Email),
		PasswordHash: hash,
		Balance:      s.opts.StartingBalance,
		Transactions: []model.Transaction{},
	}

	if err := s.repo.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", zap.Int64("account_id", a.ID), zap.String("username", a.Username))

	return a, nil
}

// Authenticate проверяет имя пользователя и пароль.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	a, err := s.repo.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return a, nil
}

// GetAccount возвращает счёт пользователя вместе с журналом операций.
func (s *Service) GetAccount(ctx context.Context, callerID, id int64) (*model.Account, error) {
	if err := authorize(callerID, id); err != nil {
		return nil, err
	}
	return s.repo.GetAccount(ctx, id)
}

// UpdateAccount изменяет имя, почту или пароль.
func (s *Service) UpdateAccount(ctx context.Context, callerID, id int64, p model.AccountPatch) (*model.Account, error) {
	if err := authorize(callerID, id); err != nil {
		return nil, err
	}
	if err := validation.AccountPatch(p); err != nil {
		return nil, err
	}

	var upd model.AccountUpdate
	if p.Username != nil {
		username := strings.TrimSpace(*p.Username)
		upd.Username = &username
	}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		upd.Email = &email
	}
	if p.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*p.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		upd.PasswordHash = hash
	}

	return s.repo.UpdateAccount(ctx, id, upd)
}

// DeleteAccount удаляет счёт вместе с задачами и серией.
func (s *Service) DeleteAccount(ctx context.Context, callerID, id int64) error {
	if err := authorize(callerID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteAccount(ctx, id); err != nil {
		return err
	}

	s.logger.Info("account deleted", zap.Int64("account_id", id))
	return nil
}

// MakePayment проводит платёж по счёту. Положительная сумма списывается,
// отрицательная зачисляется. Если accountID равен нулю, используется счёт вызывающего.
func (s *Service) MakePayment(ctx context.Context, callerID, accountID int64, amount decimal.Decimal, description string) (*model.Account, *model.Transaction, error) {
	if accountID == 0 {
		accountID = callerID
	}
	if err := authorize(callerID, accountID); err != nil {
		return nil, nil, err
	}

	amount = amount.Round(2)
	if err := validation.Amount("amount", amount); err != nil {
		return nil, nil, err
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = "Payment"
	}

	entry := model.Transaction{
		Amount:      amount.Neg(),
		Type:        model.TransactionPayment,
		Description: description,
		Date:        s.now(),
	}

	a, err := s.repo.ApplyTransaction(ctx, accountID, entry)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("payment applied",
		zap.Int64("account_id", accountID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", a.Balance.StringFixed(2)),
	)

	return a, &entry, nil
}

// CreateTask создаёт задачу. Для режимов medium и hard залог сначала авторизуется
// платёжным шлюзом, затем списывается со счёта вместе с сохранением задачи.
func (s *Service) CreateTask(ctx context.Context, callerID int64, d model.TaskDraft) (*model.Task, error) {
	if d.UserID != 0 {
		if err := authorize(callerID, d.UserID); err != nil {
			return nil, err
		}
	}
	if err := validation.Task(d); err != nil {
		return nil, err
	}

	deadline, err := validation.ParseDeadline(d.Deadline, s.opts.Location)
	if err != nil {
		return nil, err
	}

	now := s.now()
	task := &model.Task{
		ID:            uuid.New(),
		UserID:        callerID,
		Title:         strings.TrimSpace(d.Title),
		Description:   d.Description,
		Deadline:      deadline,
		Type:          model.TaskType(d.Type),
		Mode:          model.Mode(d.Mode),
		PaymentStatus: model.PaymentStatusNone,
		CreatedAt:     now,
	}
	if task.Type == "" {
		task.Type = model.TaskTypeTask
	}
	if task.Mode == "" {
		task.Mode = model.ModeEasy
	}

	var hold *model.Transaction
	if task.Mode.RequiresDeposit() {
		amount := d.Deposit.Round(2)

		if s.payments != nil {
			if err := s.payments.Charge(ctx, callerID, amount); err != nil {
				if errors.Is(err, payment.ErrDeclined) {
					metrics.TrackPayment("declined")
				}
				s.logger.Info("deposit payment failed", zap.Int64("account_id", callerID), zap.Error(err))
				return nil, err
			}
			metrics.TrackPayment("approved")
		}

		task.Deposit = decimal.NewNullDecimal(amount)
		task.PaymentStatus = model.PaymentStatusPaid
		hold = &model.Transaction{
			Amount:      amount.Neg(),
			Type:        model.TransactionDeposit,
			Description: fmt.Sprintf("Deposit held: %q", task.Title),
			Date:        now,
			TaskID:      &task.ID,
		}
	}

	if err := s.repo.CreateTask(ctx, task, hold); err != nil {
		return nil, err
	}

	s.logger.Info("task created",
		zap.String("task_id", task.ID.String()),
		zap.Int64("user_id", task.UserID),
		zap.String("mode", string(task.Mode)),
	)

	return task, nil
}

// GetTask возвращает задачу пользователя.
func (s *Service) GetTask(ctx context.Context, callerID int64, id uuid.UUID) (*model.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(callerID, task.UserID); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTasksByUser возвращает задачи пользователя, новые первыми.
func (s *Service) GetTasksByUser(ctx context.Context, callerID, userID int64) ([]model.Task, error) {
	if err := authorize(callerID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetTasksByUser(ctx, userID)
}

// UpdateTask частично обновляет задачу. Изменение completed или cancelled проходит
// через правила жизненного цикла: возврат или потеря залога и серия фиксируются
// вместе с задачей.
func (s *Service) UpdateTask(ctx context.Context, callerID int64, id uuid.UUID, p model.TaskPatch) (*model.Task, error) {
	if err := validation.TaskPatch(p); err != nil {
		return nil, err
	}

	var deadline *civil.Date
	if p.Deadline != nil {
		d, err := validation.ParseDeadline(*p.Deadline, s.opts.Location)
		if err != nil {
			return nil, err
		}
		deadline = &d
	}

	ev := eventFor(p)
	now := s.now()

	var out lifecycle.Outcome
	task, err := s.repo.UpdateTask(ctx, id, func(task *model.Task) (*model.Effects, error) {
		if err := authorize(callerID, task.UserID); err != nil {
			return nil, err
		}

		if p.Title != nil {
			task.Title = strings.TrimSpace(*p.Title)
		}
		if p.Description != nil {
			task.Description = *p.Description
		}
		if deadline != nil {
			task.Deadline = *deadline
		}
		if p.Type != nil {
			task.Type = model.TaskType(*p.Type)
		}

		if ev == "" {
			return nil, nil
		}

		var err error
		out, err = lifecycle.Apply(*task, ev, s.opts.Policy, now)
		if err != nil {
			return nil, err
		}
		*task = out.Task

		return s.effects(out, now), nil
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		s.trackTransition(ev, *task, out)
	}

	return task, nil
}

func eventFor(p model.TaskPatch) lifecycle.Event {
	switch {
	case p.Completed != nil && *p.Completed:
		return lifecycle.EventComplete
	case p.Completed != nil:
		return lifecycle.EventUncomplete
	case p.Cancelled != nil && *p.Cancelled:
		return lifecycle.EventCancel
	case p.Cancelled != nil:
		return lifecycle.EventUncancel
	}
	return ""
}

func (s *Service) effects(out lifecycle.Outcome, now time.Time) *model.Effects {
	effects := &model.Effects{Ledger: out.Ledger}
	if out.Completed {
		day := streak.Today(now, s.opts.Location)
		effects.Streak = func(st model.Streak) model.Streak {
			return streak.Record(st, day)
		}
	}
	return effects
}

func (s *Service) trackTransition(ev lifecycle.Event, task model.Task, out lifecycle.Outcome) {
	outcome := "none"
	if out.Ledger != nil {
		outcome = string(task.PaymentStatus)
	}
	metrics.TrackTransition(string(ev), string(task.Mode), outcome)

	if out.Ledger != nil {
		s.logger.Info("deposit settled",
			zap.String("task_id", task.ID.String()),
			zap.Int64("user_id", task.UserID),
			zap.String("event", string(ev)),
			zap.String("status", string(task.PaymentStatus)),
			zap.String("amount", out.Ledger.Amount.StringFixed(2)),
		)
	}
}

// DeleteTask удаляет задачу пользователя.
func (s *Service) DeleteTask(ctx context.Context, callerID int64, id uuid.UUID) error {
	if _, err := s.GetTask(ctx, callerID, id); err != nil {
		return err
	}
	return s.repo.DeleteTask(ctx, id)
}

// DeleteTasksByUser удаляет все задачи пользователя и возвращает их количество.
func (s *Service) DeleteTasksByUser(ctx context.Context, callerID, userID int64) (int64, error) {
	if err := authorize(callerID, userID); err != nil {
		return 0, err
	}
	return s.repo.DeleteTasksByUser(ctx, userID)
}

// GetStreak возвращает серию пользователя на сегодня.
func (s *Service) GetStreak(ctx context.Context, callerID int64) (model.Streak, error) {
	st, err := s.repo.GetStreak(ctx, callerID)
	if err != nil {
		return model.Streak{}, err
	}
	return streak.Current(st, streak.Today(s.now(), s.opts.Location)), nil
}

// Suggest запрашивает подсказку у коуча.
func (s *Service) Suggest(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", coach.ErrEmptyPrompt
	}
	if s.coach == nil {
		return "", coach.ErrNotConfigured
	}
	return s.coach.Suggest(ctx, prompt)
}

// StartDeadlineSweeps запускает фоновую отмену просроченных задач с залогом.
// При interval <= 0 ничего не делает.
func (s *Service) StartDeadlineSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOverdue(ctx)
			}
		}
	}()
}

// sweepOverdue отменяет открытые задачи с внесённым залогом, срок которых прошёл.
func (s *Service) sweepOverdue(ctx context.Context) int {
	now := s.now()
	today := streak.Today(now, s.opts.Location)

	tasks, err := s.repo.ListOverdueTasks(ctx, today, sweepBatchSize)
	if err != nil {
		s.logger.Error("list overdue tasks", zap.Error(err))
		return 0
	}

	swept := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			return swept
		}

		var out lifecycle.Outcome
		task, err := s.repo.UpdateTask(ctx, t.ID, func(task *model.Task) (*model.Effects, error) {
			var err error
			out, err = lifecycle.Apply(*task, lifecycle.EventCancel, s.opts.Policy, now)
			if err != nil {
				return nil, err
			}
			*task = out.Task
			return s.effects(out, now), nil
		})
		if err != nil {
			// Задачу могли завершить или удалить между выборкой и блокировкой.
			if errors.Is(err, lifecycle.ErrConflict) || errors.Is(err, repository.ErrTaskNotFound) {
				continue
			}
			s.logger.Error("cancel overdue task", zap.String("task_id", t.ID.String()), zap.Error(err))
			continue
		}

		if out.Changed {
			s.trackTransition(lifecycle.EventCancel, *task, out)
			swept++
		}
	}

	if swept > 0 {
		s.logger.Info("overdue tasks cancelled", zap.Int("count", swept))
	}

	return swept
}
