// Package lifecycle содержит правила жизненного цикла задачи и её залога.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/goaltracker/internal/model"
)

// Event описывает запрошенный переход задачи.
type Event string

const (
	// EventComplete отмечает задачу выполненной и возвращает залог.
	EventComplete Event = "complete"
	// EventUncomplete снимает отметку о выполнении, не трогая залог.
	EventUncomplete Event = "uncomplete"
	// EventCancel отменяет задачу, залог возвращается или сгорает по режиму.
	EventCancel Event = "cancel"
	// EventUncancel снимает отмену, не трогая залог.
	EventUncancel Event = "uncancel"
)

var (
	// ErrConflict возвращается при попытке завершить отменённую задачу или отменить завершённую.
	ErrConflict = errors.New("task is already in the opposite terminal state")
	// ErrUnknownEvent возвращается для неизвестного перехода.
	ErrUnknownEvent = errors.New("unknown lifecycle event")
)

// Policy задаёт параметры правил возврата залога.
type Policy struct {
	// MediumCancelRefundPercent задаёт долю залога (0..100), возвращаемая при отмене задачи среднего режима.
	MediumCancelRefundPercent int
}

// DefaultPolicy возвращает политику с полным возвратом при отмене задачи среднего режима.
func DefaultPolicy() Policy {
	return Policy{MediumCancelRefundPercent: 100}
}

// Outcome содержит результат применения перехода.
type Outcome struct {
	Task model.Task
	// Ledger содержит запись для счёта владельца, nil если залог не затронут.
	Ledger *model.Transaction
	// Changed сообщает, что переход изменил задачу.
	Changed bool
	// Completed сообщает, что задача только что перешла в состояние «выполнена».
	Completed bool
}

// Apply применяет переход к задаче. Повторный переход в текущее состояние ничего не меняет.
func Apply(task model.Task, ev Event, policy Policy, now time.Time) (Outcome, error) {
	out := Outcome{Task: task}

	switch ev {
	case EventComplete:
		if task.Completed {
			return out, nil
		}
		if task.Cancelled {
			return out, ErrConflict
		}
		at := now
		out.Task.Completed = true
		out.Task.CompletedAt = &at
		out.Changed = true
		out.Completed = true

		if holdsDeposit(task) {
			out.Task.PaymentStatus = model.PaymentStatusRefunded
			out.Ledger = entry(task, model.TransactionRefund, task.Deposit.Decimal, now,
				fmt.Sprintf("Deposit refunded: %q completed", task.Title))
		}

	case EventCancel:
		if task.Cancelled {
			return out, nil
		}
		if task.Completed {
			return out, ErrConflict
		}
		at := now
		out.Task.Cancelled = true
		out.Task.CancelledAt = &at
		out.Changed = true

		if holdsDeposit(task) {
			out.Task.PaymentStatus, out.Ledger = settleCancellation(task, policy, now)
		}

	case EventUncomplete:
		if !task.Completed {
			return out, nil
		}
		out.Task.Completed = false
		out.Task.CompletedAt = nil
		out.Changed = true

	case EventUncancel:
		if !task.Cancelled {
			return out, nil
		}
		out.Task.Cancelled = false
		out.Task.CancelledAt = nil
		out.Changed = true

	default:
		return out, fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
	}

	return out, nil
}

func holdsDeposit(task model.Task) bool {
	return task.Mode.RequiresDeposit() &&
		task.PaymentStatus == model.PaymentStatusPaid &&
		task.Deposit.Valid &&
		task.Deposit.Decimal.IsPositive()
}

func settleCancellation(task model.Task, policy Policy, now time.Time) (model.PaymentStatus, *model.Transaction) {
	deposit := task.Deposit.Decimal

	if task.Mode == model.ModeMedium {
		refund := RefundShare(deposit, policy.MediumCancelRefundPercent)
		if refund.IsPositive() {
			desc := fmt.Sprintf("Deposit refunded: %q cancelled", task.Title)
			if !refund.Equal(deposit) {
				desc = fmt.Sprintf("%d%% of deposit refunded: %q cancelled", policy.MediumCancelRefundPercent, task.Title)
			}
			return model.PaymentStatusRefunded, entry(task, model.TransactionRefund, refund, now, desc)
		}
	}

	forfeit := entry(task, model.TransactionForfeiture, decimal.Zero, now,
		fmt.Sprintf("Deposit of %s forfeited: %q cancelled", deposit.StringFixed(2), task.Title))
	return model.PaymentStatusForfeited, forfeit
}

// RefundShare вычисляет долю залога, округлённую до копеек.
func RefundShare(deposit decimal.Decimal, percent int) decimal.Decimal {
	switch {
	case percent <= 0:
		return decimal.Zero
	case percent >= 100:
		return deposit
	}
	return deposit.Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100)).Round(2)
}

func entry(task model.Task, typ model.TransactionType, amount decimal.Decimal, now time.Time, desc string) *model.Transaction {
	id := task.ID
	return &model.Transaction{
		Amount:      amount,
		Type:        typ,
		Description: desc,
		Date:        now,
		TaskID:      &id,
	}
}
