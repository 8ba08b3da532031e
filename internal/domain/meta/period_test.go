package meta

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodEnd(t *testing.T) {
	cases := []struct {
		pt   PeriodType
		in   time.Time
		want time.Time
	}{
		{PeriodDaily, date(2024, time.March, 15), date(2024, time.March, 16)},
		{PeriodWeekly, date(2024, time.March, 13), date(2024, time.March, 18)}, // Wed -> next Mon
		{PeriodWeekly, date(2024, time.March, 17), date(2024, time.March, 18)}, // Sun -> next Mon
		{PeriodMonthly, date(2024, time.February, 10), date(2024, time.March, 1)},
		{PeriodQuarterly, date(2024, time.May, 2), date(2024, time.July, 1)},
		{PeriodYearly, date(2024, time.June, 30), date(2025, time.January, 1)},
	}
	for _, c := range cases {
		if got := c.pt.PeriodEnd(c.in); !got.Equal(c.want) {
			t.Errorf("%s.PeriodEnd(%s) = %s, want %s", c.pt, c.in, got, c.want)
		}
	}
}

func TestExpired(t *testing.T) {
	ref := date(2024, time.March, 10) // monthly period ends 2024-04-01

	if PeriodMonthly.Expired(ref, date(2024, time.March, 25), 7) {
		t.Error("period still open, must not be expired")
	}
	if PeriodMonthly.Expired(ref, date(2024, time.April, 5), 7) {
		t.Error("within grace days, must not be expired")
	}
	if !PeriodMonthly.Expired(ref, date(2024, time.April, 9), 7) {
		t.Error("past period end plus grace, must be expired")
	}
	if PeriodNone.Expired(ref, date(2030, time.January, 1), 0) {
		t.Error("no period type means no expiry")
	}
}
