package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"skymaintain.app/licensing/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestComputeExpiresAt_Monthly(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"mid month", date(2026, time.March, 15), date(2026, time.April, 15)},
		{"first of month", date(2026, time.June, 1), date(2026, time.July, 1)},
		{"jan 31 clamps to feb 28", date(2026, time.January, 31), date(2026, time.February, 28)},
		{"jan 31 leap year clamps to feb 29", date(2024, time.January, 31), date(2024, time.February, 29)},
		{"may 31 clamps to jun 30", date(2026, time.May, 31), date(2026, time.June, 30)},
		{"dec rolls into next year", date(2026, time.December, 31), date(2027, time.January, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiresAt(models.IntervalMonthly, tt.from)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestComputeExpiresAt_Yearly(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"plain year", date(2026, time.March, 15), date(2027, time.March, 15)},
		{"feb 29 clamps to feb 28", date(2024, time.February, 29), date(2025, time.February, 28)},
		{"dec 31", date(2026, time.December, 31), date(2027, time.December, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiresAt(models.IntervalYearly, tt.from)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestComputeExpiresAt_PreservesClockAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	from := time.Date(2026, time.August, 9, 23, 59, 58, 123, loc)

	got := ComputeExpiresAt(models.IntervalMonthly, from)

	assert.Equal(t, 23, got.Hour())
	assert.Equal(t, 59, got.Minute())
	assert.Equal(t, 58, got.Second())
	assert.Equal(t, 123, got.Nanosecond())
	assert.Equal(t, loc, got.Location())
}

func TestComputeExpiresAt_AlwaysAfterFrom(t *testing.T) {
	from := date(2026, time.January, 31)
	for _, interval := range []models.BillingInterval{models.IntervalMonthly, models.IntervalYearly} {
		assert.True(t, ComputeExpiresAt(interval, from).After(from), "interval %s", interval)
	}
}
