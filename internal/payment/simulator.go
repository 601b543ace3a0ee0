// Package payment содержит симулятор платёжного шлюза для залогов.
package payment

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrDeclined возвращается, если симулятор отклонил платёж.
	ErrDeclined = errors.New("payment declined")
	// ErrInvalidAmount возвращается для неположительной суммы.
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// Simulator имитирует платёжный шлюз: платёж проходит с вероятностью successRate.
type Simulator struct {
	successRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulator создаёт симулятор. Если src равен nil, используется случайный источник.
func NewSimulator(successRate float64, src rand.Source) *Simulator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Simulator{
		successRate: successRate,
		rnd:         rand.New(src),
	}
}

// Charge списывает сумму залога у внешнего плательщика.
func (s *Simulator) Charge(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	roll := s.rnd.Float64()
	s.mu.Unlock()

	if roll >= s.successRate {
		return ErrDeclined
	}
	return nil
}
