package schedule

import (
	"testing"
	"time"

	"github.com/example/credit-ledger/internal/domain/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodAndStreamID(t *testing.T) {
	at := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-10", Period(at))
	assert.Equal(t, "reset-2026-10", StreamID(Period(at)))
}

func TestSchedule_TriggerOnce(t *testing.T) {
	s := New(StreamID("2026-10"))

	require.NoError(t, s.TriggerMonthlyReset("2026-10"))
	assert.True(t, s.Triggered())
	assert.Equal(t, 1, s.Version())
	require.Len(t, s.Uncommitted(), 1)
	assert.Equal(t, EventMonthlyResetTriggered, s.Uncommitted()[0].EventType)

	err := s.TriggerMonthlyReset("2026-10")
	assert.ErrorIs(t, err, ErrAlreadyTriggered)
	assert.ErrorIs(t, err, aggregate.ErrDomain)
}

func TestSchedule_ReplayedTriggerBlocksSecondRun(t *testing.T) {
	first := New(StreamID("2026-10"))
	require.NoError(t, first.TriggerMonthlyReset("2026-10"))

	replayed := New(StreamID("2026-10"))
	require.NoError(t, replayed.LoadFromHistory(first.Uncommitted(), nil))

	assert.ErrorIs(t, replayed.TriggerMonthlyReset("2026-10"), ErrAlreadyTriggered)
}

func TestSchedule_InvalidPeriod(t *testing.T) {
	tests := []string{"", "2026-13", "2026-1", "26-10", "reset-2026-10"}
	for _, period := range tests {
		t.Run(period, func(t *testing.T) {
			s := New(StreamID(period))
			assert.ErrorIs(t, s.TriggerMonthlyReset(period), ErrInvalidPeriod)
		})
	}
}

func TestSchedule_PeriodMustMatchStream(t *testing.T) {
	s := New(StreamID("2026-10"))
	assert.Error(t, s.TriggerMonthlyReset("2026-11"))
	assert.Empty(t, s.Uncommitted())
}
