// Package expiry maps a billing interval and an instant to the next
// expiry instant using calendar arithmetic.
package expiry

import (
	"time"

	"skymaintain.app/licensing/models"
)

// ComputeExpiresAt returns the expiry for one billing interval starting
// at from. Monthly adds one calendar month, yearly one calendar year.
// When the source day does not exist in the target month the result is
// clamped to the month's last day (Jan 31 -> Feb 28/29, Feb 29 -> Feb 28).
// Time of day and location are preserved.
func ComputeExpiresAt(interval models.BillingInterval, from time.Time) time.Time {
	if interval == models.IntervalYearly {
		return addMonths(from, 12)
	}
	return addMonths(from, 1)
}

func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	// time.Date normalizes the month overflow for us.
	target := time.Date(year, month+time.Month(months), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}

	return time.Date(target.Year(), target.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in a month; day 0 of the following
// month normalizes to the last day of this one.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
