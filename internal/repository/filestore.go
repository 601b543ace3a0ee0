package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/mmeshcher/goaltracker/internal/metrics"
	"github.com/mmeshcher/goaltracker/internal/model"
)

const backendFile = "file"

const (
	tasksFile    = "tasks.json"
	accountsFile = "accounts.json"
	streaksFile  = "streaks.json"
)

// accountRecord хранит счёт вместе с хешем пароля, который не попадает в ответы API.
type accountRecord struct {
	model.Account
	PasswordHash []byte `json:"passwordHash"`
}

type streakRecord struct {
	Current  int    `json:"current"`
	Best     int    `json:"best"`
	LastDate string `json:"lastDate,omitempty"`
}

type document struct {
	name  string
	value any
}

// FileRepository хранит данные в трёх JSON-документах в одном каталоге.
// Все операции сериализуются одним мьютексом, изменения нескольких
// документов фиксируются вместе либо откатываются.
type FileRepository struct {
	dir string
	mu  sync.Mutex
}

// NewFileRepository создаёт файловое хранилище в каталоге dir.
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

// Close ничего не делает: файлы не держатся открытыми между операциями.
func (r *FileRepository) Close() error {
	return nil
}

// CreateAccount создаёт счёт с очередным идентификатором.
func (r *FileRepository) CreateAccount(_ context.Context, a *model.Account) error {
	defer metrics.TrackStoreOperation("create_account", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []accountRecord
	if err := r.load(accountsFile, &accounts); err != nil {
		return err
	}

	var maxID int64
	for _, rec := range accounts {
		if rec.Username == a.Username {
			return fmt.Errorf("%w: %s", ErrUserExists, a.Username)
		}
		maxID = max(maxID, rec.ID)
	}

	now := time.Now().UTC()
	a.ID = maxID + 1
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Transactions == nil {
		a.Transactions = []model.Transaction{}
	}

	accounts = append(accounts, accountRecord{Account: *a, PasswordHash: a.PasswordHash})

	return r.commit(document{accountsFile, accounts})
}

// GetAccount возвращает счёт вместе с журналом операций.
func (r *FileRepository) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	defer metrics.TrackStoreOperation("get_account", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []accountRecord
	if err := r.load(accountsFile, &accounts); err != nil {
		return nil, err
	}

	i := indexAccount(accounts, id)
	if i < 0 {
		return nil, ErrAccountNotFound
	}

	return accounts[i].toModel(), nil
}

// GetAccountByUsername ищет счёт по имени пользователя.
func (r *FileRepository) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	defer metrics.TrackStoreOperation("get_account", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []accountRecord
	if err := r.load(accountsFile, &accounts); err != nil {
		return nil, err
	}

	for _, rec := range accounts {
		if rec.Username == username {
			return rec.toModel(), nil
		}
	}

	return nil, ErrAccountNotFound
}

// UpdateAccount меняет имя, почту или хеш пароля.
func (r *FileRepository) UpdateAccount(_ context.Context, id int64, upd model.AccountUpdate) (*model.Account, error) {
	defer metrics.TrackStoreOperation("update_account", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []accountRecord
	if err := r.load(accountsFile, &accounts); err != nil {
		return nil, err
	}

	i := indexAccount(accounts, id)
	if i < 0 {
		return nil, ErrAccountNotFound
	}

	if upd.Username != nil {
		for _, rec := range accounts {
			if rec.ID != id && rec.Username == *upd.Username {
				return nil, fmt.Errorf("%w: %s", ErrUserExists, *upd.Username)
			}
		}
		accounts[i].Username = *upd.Username
	}
	if upd.Email != nil {
		accounts[i].Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		accounts[i].PasswordHash = upd.PasswordHash
	}
	accounts[i].UpdatedAt = time.Now().UTC()

	if err := r.commit(document{accountsFile, accounts}); err != nil {
		return nil, err
	}

	return accounts[i].toModel(), nil
}

// DeleteAccount удаляет счёт вместе с задачами и серией пользователя.
func (r *FileRepository) DeleteAccount(_ context.Context, id int64) error {
	defer metrics.TrackStoreOperation("delete_account", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		accounts []accountRecord
		tasks    []model.Task
		streaks  map[int64]streakRecord
	)
	if err := r.loadAll(&accounts, &tasks, &streaks); err != nil {
		return err
	}

	i := indexAccount(accounts, id)
	if i < 0 {
		return ErrAccountNotFound
	}

	accounts = slices.Delete(accounts, i, i+1)
	tasks = slices.DeleteFunc(tasks, func(t model.Task) bool { return t.UserID == id })
	delete(streaks, id)

	return r.commit(
		document{tasksFile, tasks},
		document{streaksFile, streaks},
		document{accountsFile, accounts},
	)
}

// ApplyTransaction добавляет запись в журнал и меняет баланс на её сумму.
func (r *FileRepository) ApplyTransaction(_ context.Context, accountID int64, entry model.Transaction) (*model.Account, error) {
	defer metrics.TrackStoreOperation("apply_transaction", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []accountRecord
	if err := r.load(accountsFile, &accounts); err != nil {
		return nil, err
	}

	i, err := applyLedgerRecord(accounts, accountID, entry, ErrAccountNotFound)
	if err != nil {
		return nil, err
	}

	if err := r.commit(document{accountsFile, accounts}); err != nil {
		return nil, err
	}

	return accounts[i].toModel(), nil
}

// CreateTask сохраняет задачу. Если hold не nil, залог списывается со счёта в той же записи.
func (r *FileRepository) CreateTask(_ context.Context, task *model.Task, hold *model.Transaction) error {
	defer metrics.TrackStoreOperation("create_task", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		accounts []accountRecord
		tasks    []model.Task
	)
	if err := r.load(accountsFile, &accounts); err != nil {
		return err
	}
	if err := r.load(tasksFile, &tasks); err != nil {
		return err
	}

	docs := []document{{tasksFile, nil}}
	if hold != nil {
		if _, err := applyLedgerRecord(accounts, task.UserID, *hold, ErrAccountNotFound); err != nil {
			return err
		}
		docs = append(docs, document{accountsFile, accounts})
	} else if indexAccount(accounts, task.UserID) < 0 {
		return ErrAccountNotFound
	}

	docs[0].value = append(tasks, *task)

	return r.commit(docs...)
}

// GetTask возвращает задачу по идентификатору.
func (r *FileRepository) GetTask(_ context.Context, id uuid.UUID) (*model.Task, error) {
	defer metrics.TrackStoreOperation("get_task", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []model.Task
	if err := r.load(tasksFile, &tasks); err != nil {
		return nil, err
	}

	i := indexTask(tasks, id)
	if i < 0 {
		return nil, ErrTaskNotFound
	}

	return &tasks[i], nil
}

// GetTasksByUser возвращает задачи пользователя, новые первыми.
func (r *FileRepository) GetTasksByUser(_ context.Context, userID int64) ([]model.Task, error) {
	defer metrics.TrackStoreOperation("get_tasks", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []model.Task
	if err := r.load(tasksFile, &tasks); err != nil {
		return nil, err
	}

	res := []model.Task{}
	for _, t := range tasks {
		if t.UserID == userID {
			res = append(res, t)
		}
	}

	slices.SortStableFunc(res, func(a, b model.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return res, nil
}

// ListOverdueTasks возвращает открытые задачи с внесённым залогом и сроком раньше before.
func (r *FileRepository) ListOverdueTasks(_ context.Context, before civil.Date, limit int) ([]model.Task, error) {
	defer metrics.TrackStoreOperation("list_overdue", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []model.Task
	if err := r.load(tasksFile, &tasks); err != nil {
		return nil, err
	}

	res := []model.Task{}
	for _, t := range tasks {
		if !t.Completed && !t.Cancelled && t.PaymentStatus == model.PaymentStatusPaid && t.Deadline.Before(before) {
			res = append(res, t)
		}
	}

	slices.SortStableFunc(res, func(a, b model.Task) int {
		return cmp.Compare(a.Deadline.DaysSince(b.Deadline), 0)
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res, nil
}

// UpdateTask применяет mutate к задаче и фиксирует задачу, счёт и серию вместе.
func (r *FileRepository) UpdateTask(_ context.Context, id uuid.UUID, mutate model.TaskMutator) (*model.Task, error) {
	defer metrics.TrackStoreOperation("update_task", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []model.Task
	if err := r.load(tasksFile, &tasks); err != nil {
		return nil, err
	}

	i := indexTask(tasks, id)
	if i < 0 {
		return nil, ErrTaskNotFound
	}

	task := tasks[i]
	effects, err := mutate(&task)
	if err != nil {
		return nil, err
	}
	tasks[i] = task

	docs := []document{{tasksFile, tasks}}

	if effects != nil && effects.Ledger != nil {
		var accounts []accountRecord
		if err := r.load(accountsFile, &accounts); err != nil {
			return nil, err
		}
		if _, err := applyLedgerRecord(accounts, task.UserID, *effects.Ledger, ErrInconsistentState); err != nil {
			return nil, err
		}
		docs = append(docs, document{accountsFile, accounts})
	}

	if effects != nil && effects.Streak != nil {
		var streaks map[int64]streakRecord
		if err := r.load(streaksFile, &streaks); err != nil {
			return nil, err
		}
		if streaks == nil {
			streaks = map[int64]streakRecord{}
		}
		cur, err := streaks[task.UserID].toModel()
		if err != nil {
			return nil, err
		}
		next := effects.Streak(cur)
		streaks[task.UserID] = newStreakRecord(next)
		docs = append(docs, document{streaksFile, streaks})
	}

	if err := r.commit(docs...); err != nil {
		return nil, err
	}

	return &task, nil
}

// DeleteTask удаляет задачу.
func (r *FileRepository) DeleteTask(_ context.Context, id uuid.UUID) error {
	defer metrics.TrackStoreOperation("delete_task", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []model.Task
	if err := r.load(tasksFile, &tasks); err != nil {
		return err
	}

	i := indexTask(tasks, id)
	if i < 0 {
		return ErrTaskNotFound
	}

	return r.commit(document{tasksFile, slices.Delete(tasks, i, i+1)})
}

// DeleteTasksByUser удаляет все задачи пользователя и возвращает их количество.
func (r *FileRepository) DeleteTasksByUser(_ context.Context, userID int64) (int64, error) {
	defer metrics.TrackStoreOperation("delete_tasks", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []model.Task
	if err := r.load(tasksFile, &tasks); err != nil {
		return 0, err
	}

	before := len(tasks)
	tasks = slices.DeleteFunc(tasks, func(t model.Task) bool { return t.UserID == userID })
	deleted := int64(before - len(tasks))
	if deleted == 0 {
		return 0, nil
	}

	if err := r.commit(document{tasksFile, tasks}); err != nil {
		return 0, err
	}

	return deleted, nil
}

// GetStreak возвращает сохранённую серию пользователя.
func (r *FileRepository) GetStreak(_ context.Context, accountID int64) (model.Streak, error) {
	defer metrics.TrackStoreOperation("get_streak", backendFile).ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	var streaks map[int64]streakRecord
	if err := r.load(streaksFile, &streaks); err != nil {
		return model.Streak{}, err
	}

	return streaks[accountID].toModel()
}

func (r *FileRepository) loadAll(accounts *[]accountRecord, tasks *[]model.Task, streaks *map[int64]streakRecord) error {
	if err := r.load(accountsFile, accounts); err != nil {
		return err
	}
	if err := r.load(tasksFile, tasks); err != nil {
		return err
	}
	return r.load(streaksFile, streaks)
}

// load читает документ. Отсутствующий или пустой файл означает пустую коллекцию.
func (r *FileRepository) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// commit записывает документы по очереди. При ошибке уже записанные документы
// возвращаются к прежнему содержимому.
func (r *FileRepository) commit(docs ...document) error {
	type backup struct {
		path    string
		data    []byte
		existed bool
	}

	written := make([]backup, 0, len(docs))
	rollback := func() {
		for _, b := range slices.Backward(written) {
			if !b.existed {
				_ = os.Remove(b.path)
				continue
			}
			_ = writeAtomic(b.path, b.data)
		}
	}

	for _, d := range docs {
		path := filepath.Join(r.dir, d.name)

		prev, err := os.ReadFile(path)
		existed := err == nil
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			rollback()
			return fmt.Errorf("read %s: %w", d.name, err)
		}

		data, err := json.MarshalIndent(d.value, "", "  ")
		if err != nil {
			rollback()
			return fmt.Errorf("encode %s: %w", d.name, err)
		}

		if err := writeAtomic(path, data); err != nil {
			rollback()
			return fmt.Errorf("write %s: %w", d.name, err)
		}

		written = append(written, backup{path: path, data: prev, existed: existed})
	}

	return nil
}

// writeAtomic пишет данные во временный файл и переименовывает его поверх path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// applyLedgerRecord меняет баланс счёта и добавляет запись в журнал. Возвращает индекс счёта.
func applyLedgerRecord(accounts []accountRecord, accountID int64, entry model.Transaction, missing error) (int, error) {
	i := indexAccount(accounts, accountID)
	if i < 0 {
		return -1, missing
	}

	next := accounts[i].Balance.Add(entry.Amount)
	if next.IsNegative() {
		return -1, ErrInsufficientBalance
	}

	accounts[i].Balance = next
	accounts[i].Transactions = append(accounts[i].Transactions, entry)
	accounts[i].UpdatedAt = time.Now().UTC()

	return i, nil
}

func indexAccount(accounts []accountRecord, id int64) int {
	return slices.IndexFunc(accounts, func(rec accountRecord) bool { return rec.ID == id })
}

func indexTask(tasks []model.Task, id uuid.UUID) int {
	return slices.IndexFunc(tasks, func(t model.Task) bool { return t.ID == id })
}

func (rec accountRecord) toModel() *model.Account {
	a := rec.Account
	a.PasswordHash = rec.PasswordHash
	if a.Transactions == nil {
		a.Transactions = []model.Transaction{}
	}
	return &a
}

func (rec streakRecord) toModel() (model.Streak, error) {
	s := model.Streak{Current: rec.Current, Best: rec.Best}
	if rec.LastDate != "" {
		d, err := civil.ParseDate(rec.LastDate)
		if err != nil {
			return model.Streak{}, fmt.Errorf("decode %s: lastDate: %w", streaksFile, err)
		}
		s.LastDate = d
	}
	return s, nil
}

func newStreakRecord(s model.Streak) streakRecord {
	rec := streakRecord{Current: s.Current, Best: s.Best}
	if !s.LastDate.IsZero() {
		rec.LastDate = s.LastDate.String()
	}
	return rec
}
