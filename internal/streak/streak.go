// Package streak вычисляет серию последовательных дней с выполненными задачами.
//
// Серия хранится инкрементально: {current, best, lastDate}. Все сравнения дат
// выполняются по календарным дням в одном фиксированном часовом поясе.
package streak

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/mmeshcher/goaltracker/internal/model"
)

// Today возвращает календарную дату момента t в часовом поясе loc.
func Today(t time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(t.In(loc))
}

// Record учитывает выполнение задачи в день day.
func Record(s model.Streak, day civil.Date) model.Streak {
	if !s.LastDate.IsZero() {
		gap := day.DaysSince(s.LastDate)
		switch {
		case gap <= 0:
			// День уже учтён либо выполнение пришло задним числом.
			return s
		case gap == 1:
			s.Current++
		default:
			s.Current = 1
		}
	} else {
		s.Current = 1
	}

	if s.Current > s.Best {
		s.Best = s.Current
	}
	s.LastDate = day

	return s
}

// Current возвращает серию на день today: если с последнего выполнения прошло
// больше одного дня, текущая серия равна нулю, лучшая не меняется.
func Current(s model.Streak, today civil.Date) model.Streak {
	if s.LastDate.IsZero() || today.DaysSince(s.LastDate) > 1 {
		s.Current = 0
	}
	return s
}
