/*
period.go - Settlement periods and the due-day calendar

PURPOSE:
  Settlement runs once per family per calendar month. This file answers
  the two calendar questions the orchestrator asks:
    1. Which period does a given date belong to? (idempotency key)
    2. Is a family due on this date? (schedule match, including the
       end-of-month wildcard)

KEY CONCEPTS:
  - Period: [first day of month, last day of month], date-granular
  - Due rule: settlementDay == day(today), or settlementDay == 0 and
    today is the month's last day (28/29/30/31 all handled)

SEE ALSO:
  - batch.go: uses PeriodFor as the audit idempotency key
*/
package credit

import "time"

// =============================================================================
// PERIOD - Calendar month containing a date
// =============================================================================

// Period is the time boundary one settlement covers. Start and End are
// date-granular, both inclusive, always a full calendar month.
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodFor returns the calendar-month period containing the given date.
// The Start is the canonical idempotency key for that month's settlement.
func PeriodFor(date time.Time) Period {
	y, m, _ := date.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Start: start,
		End:   start.AddDate(0, 1, -1),
	}
}

// Contains reports whether the date falls inside the period.
func (p Period) Contains(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

// DateOnly truncates a time to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LastDayOf returns the last calendar day of the month containing t,
// correct for 28/29/30/31-day months and leap years.
func LastDayOf(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// IsLastDayOfMonth reports whether t is the final day of its month.
func IsLastDayOfMonth(t time.Time) bool {
	return DateOnly(t).Equal(LastDayOf(t))
}

// =============================================================================
// DUE RULE
// =============================================================================

// ValidSettlementDay reports whether day is a legal schedule value:
// LastDayOfMonth (0) or a fixed day 1..28. Days 29-31 are rejected so a
// fixed schedule fires every month.
func ValidSettlementDay(day int) bool {
	return day >= LastDayOfMonth && day <= 28
}

// IsDue reports whether a family with the given settlement day is due on
// today. The wildcard matches only the month's true last day: a family
// with day 0 is due Jan 31 and Feb 28 (29 in leap years), never Jan 30.
func IsDue(settlementDay int, today time.Time) bool {
	if settlementDay == LastDayOfMonth {
		return IsLastDayOfMonth(today)
	}
	return today.UTC().Day() == settlementDay
}
