package meta

import "time"

// PeriodType identifies the reporting-period granularity used by a
// program's expiry rules. The zero value means no period-based expiry.
type PeriodType string

const (
	PeriodNone      PeriodType = ""
	PeriodDaily     PeriodType = "Daily"
	PeriodWeekly    PeriodType = "Weekly"
	PeriodMonthly   PeriodType = "Monthly"
	PeriodQuarterly PeriodType = "Quarterly"
	PeriodYearly    PeriodType = "Yearly"
)

// PeriodEnd returns the exclusive end of the period containing t: the
// first instant of the day after the period's last day, in t's location.
// Weeks are ISO weeks (Monday-based).
func (p PeriodType) PeriodEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch p {
	case PeriodDaily:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	case PeriodWeekly:
		// Walk back to Monday, then forward one week.
		wd := int(t.Weekday())
		if wd == 0 {
			wd = 7
		}
		return time.Date(y, m, d-(wd-1)+7, 0, 0, 0, 0, loc)
	case PeriodMonthly:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	case PeriodQuarterly:
		q := (int(m) - 1) / 3
		return time.Date(y, time.Month(q*3+4), 1, 0, 0, 0, 0, loc)
	case PeriodYearly:
		return time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc)
	}
	return time.Time{}
}

// Expired reports whether the period containing refDate has been closed
// for more than graceDays at instant now.
func (p PeriodType) Expired(refDate, now time.Time, graceDays int) bool {
	if p == PeriodNone {
		return false
	}
	end := p.PeriodEnd(refDate)
	return now.After(end.AddDate(0, 0, graceDays))
}
