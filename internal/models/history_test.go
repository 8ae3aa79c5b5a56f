package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistory_Closes_SkipsGaps(t *testing.T) {
	h := History{
		Symbol:   "AAPL",
		Range:    RangeFiveDays,
		Interval: IntervalOneDay,
		Points: []PricePoint{
			{Close: 100},
			{Close: 0}, // halted session gap
			{Close: 102},
		},
	}

	assert.Equal(t, []float64{100, 102}, h.Closes())
}

func TestValidateRangeInterval(t *testing.T) {
	assert.NoError(t, ValidateRangeInterval(RangeOneDay, IntervalFiveMinutes))
	assert.NoError(t, ValidateRangeInterval(RangeSixMonth, IntervalOneHour))
	assert.NoError(t, ValidateRangeInterval(RangeMax, IntervalOneMonth))

	err := ValidateRangeInterval(RangeOneYear, IntervalFiveMinutes)
	assert.Error(t, err)

	err = ValidateRangeInterval("fortnight", IntervalOneDay)
	assert.Error(t, err)

	err = ValidateRangeInterval(RangeOneDay, "90s")
	assert.Error(t, err)
}

func TestHistory_Validate(t *testing.T) {
	h := History{Symbol: "AAPL", Range: RangeOneMonth, Interval: IntervalOneDay}
	assert.NoError(t, h.Validate())

	h.Interval = "bogus"
	assert.Error(t, h.Validate())
}

func TestCachedHistory_IsExpired(t *testing.T) {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	entry := CachedHistory{
		FetchedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}

	assert.True(t, entry.IsExpired(now))
	assert.False(t, entry.IsExpired(now.Add(-90*time.Minute)))
}
