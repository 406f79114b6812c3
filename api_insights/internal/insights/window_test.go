package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeeklyWindowBoundaries(t *testing.T) {
	end := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	w := WeeklyWindow(end, time.Time{})

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, end, w.End)
	assert.True(t, w.Contains(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), "start is included")
	assert.False(t, w.Contains(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)), "end is excluded")
	assert.True(t, w.Contains(time.Date(2024, 1, 7, 23, 59, 59, 999, time.UTC)))
	assert.False(t, w.Contains(time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)))
}

func TestWeeklyWindowDefaultsToTodayUTC(t *testing.T) {
	now := time.Date(2024, 3, 15, 17, 45, 12, 0, time.UTC)
	w := WeeklyWindow(time.Time{}, now)

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), w.Start)
}

func TestWeeklyWindowNormalizesOtherZones(t *testing.T) {
	// 01:30 on the 2nd in UTC+5 is still the 1st in UTC
	zone := time.FixedZone("UTC+5", 5*3600)
	w := WeeklyWindow(time.Date(2024, 2, 2, 1, 30, 0, 0, zone), time.Time{})

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, WindowLength, w.End.Sub(w.Start))
}
