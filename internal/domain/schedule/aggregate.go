package schedule

import (
	"fmt"
	"regexp"
	"time"

	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/example/credit-ledger/internal/infrastructure/store"
)

const (
	AggregateType              = "ResetSchedule"
	EventMonthlyResetTriggered = "MonthlyResetTriggered"
)

var (
	ErrInvalidPeriod    = &aggregate.DomainError{Message: "Period must be formatted as YYYY-MM"}
	ErrAlreadyTriggered = &aggregate.DomainError{Message: "Monthly reset already triggered for period"}
)

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

type MonthlyResetTriggered struct {
	Period      string    `json:"period"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Period formats t as the reset period it belongs to
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// StreamID is the aggregate id of a period, e.g. reset-2026-10
func StreamID(period string) string {
	return "reset-" + period
}

type state struct {
	Period    string `json:"period"`
	Triggered bool   `json:"triggered"`
}

// Schedule guards a reset period so it can be triggered only once
type Schedule struct {
	aggregate.Root
	state state
}

func New(id string) *Schedule {
	s := &Schedule{}
	s.Root = aggregate.NewRoot(id, AggregateType, &s.state)
	aggregate.On(&s.Root, EventMonthlyResetTriggered, func(e MonthlyResetTriggered, _ store.Event) {
		s.state.Period = e.Period
		s.state.Triggered = true
	})
	return s
}

func (s *Schedule) Triggered() bool { return s.state.Triggered }

func (s *Schedule) TriggerMonthlyReset(period string) error {
	if !periodPattern.MatchString(period) {
		return ErrInvalidPeriod
	}
	if s.ID() != StreamID(period) {
		return fmt.Errorf("schedule %s cannot trigger period %s", s.ID(), period)
	}
	if s.state.Triggered {
		return ErrAlreadyTriggered
	}
	return s.Raise(EventMonthlyResetTriggered, MonthlyResetTriggered{
		Period:      period,
		TriggeredAt: time.Now().UTC(),
	})
}
