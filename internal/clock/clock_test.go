package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfMonthUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	local := time.Date(2024, time.July, 1, 3, 0, 0, 0, loc)

	assert.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(local))
	assert.Equal(t, time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC), StartOfDay(local))
}

func TestFakeClockAdvance(t *testing.T) {
	c := NewFakeClock(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))
	c.Advance(31 * 24 * time.Hour)

	assert.Equal(t, time.Date(2024, time.July, 2, 12, 0, 0, 0, time.UTC), c.Now())
}
