// Package model содержит доменные сущности сервиса целей и задач.
package model

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// TaskType описывает вид задачи. Влияет только на отображение, но не на жизненный цикл.
type TaskType string

const (
	TaskTypeTask          TaskType = "task"
	TaskTypeShortTermGoal TaskType = "shortTermGoal"
	TaskTypeLongTermGoal  TaskType = "longTermGoal"
)

// Mode описывает уровень ответственности задачи.
type Mode string

const (
	ModeEasy   Mode = "easy"
	ModeMedium Mode = "medium"
	ModeHard   Mode = "hard"
)

// RequiresDeposit сообщает, требуется ли для режима залог.
func (m Mode) RequiresDeposit() bool {
	return m == ModeMedium || m == ModeHard
}

// PaymentStatus описывает состояние залога задачи.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "none"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusForfeited PaymentStatus = "forfeited"
)

// Task описывает задачу или цель пользователя.
type Task struct {
	ID            uuid.UUID           `json:"id"`
	UserID        int64               `json:"userid"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Deadline      civil.Date          `json:"deadline"`
	Type          TaskType            `json:"type"`
	Mode          Mode                `json:"mode"`
	Deposit       decimal.NullDecimal `json:"deposit"`
	PaymentStatus PaymentStatus       `json:"paymentStatus"`
	Completed     bool                `json:"completed"`
	Cancelled     bool                `json:"cancelled"`
	CompletedAt   *time.Time          `json:"completedAt"`
	CancelledAt   *time.Time          `json:"cancelledAt"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// TransactionType описывает вид операции по счёту.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionRefund     TransactionType = "refund"
	TransactionForfeiture TransactionType = "forfeiture"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPayment    TransactionType = "payment"
)

// Transaction описывает запись журнала операций счёта.
// Amount содержит знаковое изменение баланса.
type Transaction struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	TaskID      *uuid.UUID      `json:"taskId,omitempty"`
}

// Account описывает учётную запись пользователя и его баланс.
type Account struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	PasswordHash []byte          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	Transactions []Transaction   `json:"transactions"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Streak содержит серию последовательных дней с выполненными задачами.
type Streak struct {
	Current  int
	Best     int
	LastDate civil.Date
}

// TaskDraft содержит данные для создания задачи.
type TaskDraft struct {
	// UserID можно не указывать: задача создаётся для текущего пользователя.
	UserID      int64            `json:"userid"`
	Title       string           `json:"title" validate:"required"`
	Deadline    string           `json:"deadline" validate:"required"`
	Description string           `json:"description"`
	Type        string           `json:"type" validate:"omitempty,oneof=task shortTermGoal longTermGoal"`
	Mode        string           `json:"mode" validate:"omitempty,oneof=easy medium hard"`
	Deposit     *decimal.Decimal `json:"deposit"`
}

// TaskPatch содержит частичное обновление задачи. Nil-поля не меняются.
type TaskPatch struct {
	Title       *string `json:"title" validate:"omitempty,min=1"`
	Description *string `json:"description"`
	Deadline    *string `json:"deadline" validate:"omitempty,min=1"`
	Type        *string `json:"type" validate:"omitempty,oneof=task shortTermGoal longTermGoal"`
	Completed   *bool   `json:"completed"`
	Cancelled   *bool   `json:"cancelled"`
}

// AccountDraft содержит данные для регистрации.
type AccountDraft struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// AccountPatch содержит частичное обновление профиля.
type AccountPatch struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=64"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password" validate:"omitempty,min=6,max=72"`
}

// AccountUpdate содержит изменения учётной записи, готовые к сохранению.
type AccountUpdate struct {
	Username     *string
	Email        *string
	PasswordHash []byte
}

// Effects описывает побочные эффекты изменения задачи, которые хранилище
// применяет в той же единице работы.
type Effects struct {
	// Ledger применяется к счёту владельца задачи.
	Ledger *Transaction
	// Streak пересчитывает серию владельца задачи.
	Streak func(Streak) Streak
}

// TaskMutator изменяет задачу на месте и возвращает побочные эффекты.
// Ошибка отменяет всю единицу работы.
type TaskMutator func(task *Task) (*Effects, error)
