package ledger

import "time"

// MonthPeriod returns [first of month 00:00, first of next month) in loc.
func MonthPeriod(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

func CurrentMonthPeriod(loc *time.Location) (time.Time, time.Time) {
	return MonthPeriod(time.Now(), loc)
}

// PeriodKey identifies a billing period for persistence, e.g. "2026-10".
func PeriodKey(start time.Time) string {
	return start.Format("2006-01")
}
