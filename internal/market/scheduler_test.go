package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-bar-ingestor/internal/service"
)

func newTestScheduler(t *testing.T, holidays []string) *Scheduler {
	t.Helper()
	s, err := NewScheduler(&service.MarketConfig{
		Timezone:    "Asia/Kolkata",
		PrepStart:   "09:00",
		Open:        "09:15",
		Close:       "15:30",
		CaptureEnd:  "15:45",
		Holidays:    holidays,
		PollSeconds: 15,
	})
	require.NoError(t, err)
	return s
}

// 2025-09-03 是周三
func ist(t *testing.T, hour, min, sec int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return time.Date(2025, 9, 3, hour, min, sec, 0, loc)
}

func TestStateAtBoundaries(t *testing.T) {
	s := newTestScheduler(t, nil)

	assert.Equal(t, StateIdle, s.StateAt(ist(t, 7, 0, 0)))
	assert.Equal(t, StatePreOpen, s.StateAt(ist(t, 9, 0, 0)))
	assert.Equal(t, StatePreOpen, s.StateAt(ist(t, 9, 14, 59))) // 开盘前一秒
	assert.Equal(t, StateOpen, s.StateAt(ist(t, 9, 15, 0)))     // 恰好开盘时刻
	assert.Equal(t, StateOpen, s.StateAt(ist(t, 12, 0, 0)))
	assert.Equal(t, StateWindingDown, s.StateAt(ist(t, 15, 30, 0)))
	assert.Equal(t, StateWindingDown, s.StateAt(ist(t, 15, 44, 59)))
	assert.Equal(t, StateIdle, s.StateAt(ist(t, 15, 45, 0)))
	assert.Equal(t, StateIdle, s.StateAt(ist(t, 22, 0, 0)))
}

func TestStateAtIsPure(t *testing.T) {
	s := newTestScheduler(t, nil)
	at := ist(t, 10, 30, 0)
	for i := 0; i < 3; i++ {
		assert.Equal(t, StateOpen, s.StateAt(at))
	}
}

func TestHolidayStaysIdleAllDay(t *testing.T) {
	s := newTestScheduler(t, []string{"2025-09-03"})

	assert.Equal(t, StateIdle, s.StateAt(ist(t, 9, 15, 0)))
	assert.Equal(t, StateIdle, s.StateAt(ist(t, 12, 0, 0)))
	assert.Equal(t, StateIdle, s.StateAt(ist(t, 15, 35, 0)))
}

func TestWeekendStaysIdle(t *testing.T) {
	s := newTestScheduler(t, nil)
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 2025-09-06 周六, 2025-09-07 周日
	saturday := time.Date(2025, 9, 6, 11, 0, 0, 0, loc)
	sunday := time.Date(2025, 9, 7, 11, 0, 0, 0, loc)
	assert.Equal(t, StateIdle, s.StateAt(saturday))
	assert.Equal(t, StateIdle, s.StateAt(sunday))
}

func TestStateAtConvertsTimezone(t *testing.T) {
	s := newTestScheduler(t, nil)

	// 05:45 UTC == 11:15 IST，盘中
	utc := time.Date(2025, 9, 3, 5, 45, 0, 0, time.UTC)
	assert.Equal(t, StateOpen, s.StateAt(utc))
}

func TestBoundaryOrderValidated(t *testing.T) {
	_, err := NewScheduler(&service.MarketConfig{
		Timezone:    "Asia/Kolkata",
		PrepStart:   "10:00",
		Open:        "09:15",
		Close:       "15:30",
		CaptureEnd:  "15:45",
		PollSeconds: 15,
	})
	assert.Error(t, err)
}
