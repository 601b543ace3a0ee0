// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/goaltracker/internal/model"
)

// ErrInvalid возвращается, если входные данные не прошли проверку.
var ErrInvalid = errors.New("validation failed")

// MaxAmount ограничивает модуль суммы платежа и залога.
var MaxAmount = decimal.New(1, 12)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(depositRule, model.TaskDraft{})

	return v
}

// depositRule требует положительный залог для режимов medium и hard.
func depositRule(sl validator.StructLevel) {
	d := sl.Current().Interface().(model.TaskDraft)
	if !model.Mode(d.Mode).RequiresDeposit() {
		return
	}
	if d.Deposit == nil || !d.Deposit.Round(2).IsPositive() {
		sl.ReportError(d.Deposit, "deposit", "Deposit", "deposit", d.Mode)
		return
	}
	if d.Deposit.Round(2).GreaterThan(MaxAmount) {
		sl.ReportError(d.Deposit, "deposit", "Deposit", "maxamount", MaxAmount.String())
	}
}

// Amount проверяет, что сумма не равна нулю и по модулю не превышает MaxAmount.
func Amount(field string, d decimal.Decimal) error {
	d = d.Round(2)
	if d.IsZero() {
		return fmt.Errorf("%w: %s must be non-zero", ErrInvalid, field)
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s must not exceed %s", ErrInvalid, field, MaxAmount.String())
	}
	return nil
}

// Task проверяет данные для создания задачи.
func Task(d model.TaskDraft) error {
	d.Title = strings.TrimSpace(d.Title)
	d.Deadline = strings.TrimSpace(d.Deadline)
	return describe(validate.Struct(d))
}

// TaskPatch проверяет частичное обновление задачи.
func TaskPatch(p model.TaskPatch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalid)
	}
	if p.Completed != nil && p.Cancelled != nil {
		return fmt.Errorf("%w: completed and cancelled cannot be changed together", ErrInvalid)
	}
	return describe(validate.Struct(p))
}

// Account проверяет данные для регистрации.
func Account(d model.AccountDraft) error {
	d.Username = strings.TrimSpace(d.Username)
	return describe(validate.Struct(d))
}

// AccountPatch проверяет частичное обновление профиля.
func AccountPatch(p model.AccountPatch) error {
	return describe(validate.Struct(p))
}

// ParseDeadline разбирает срок задачи. Принимается дата YYYY-MM-DD либо
// момент времени RFC 3339, который переводится в дату в часовом поясе loc.
func ParseDeadline(s string, loc *time.Location) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		if loc == nil {
			loc = time.UTC
		}
		return civil.DateOf(t.In(loc)), nil
	}
	return civil.Date{}, fmt.Errorf("%w: deadline must be a date (YYYY-MM-DD)", ErrInvalid)
}

func describe(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, message(fe))
	}

	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "email":
		return fe.Field() + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "deposit":
		return fmt.Sprintf("deposit must be positive for %s mode", fe.Param())
	case "maxamount":
		return fmt.Sprintf("%s must not exceed %s", fe.Field(), fe.Param())
	}
	return fe.Field() + " is invalid"
}
