package constants

import "time"

// DateRange selects how far back an export reaches. Captured once at
// submission and never mutated afterwards.
type DateRange string

const (
	DateRangeAll    DateRange = "ALL"
	DateRangeLast7  DateRange = "LAST_7"
	DateRangeLast30 DateRange = "LAST_30"
	DateRangeLast90 DateRange = "LAST_90"
)

// DateRanges lists every accepted value; anything else is an InvalidFilter.
var DateRanges = []DateRange{DateRangeAll, DateRangeLast7, DateRangeLast30, DateRangeLast90}

// IsValidDateRange reports whether s is one of the allowed selector values.
func IsValidDateRange(s DateRange) bool {
	for _, r := range DateRanges {
		if s == r {
			return true
		}
	}
	return false
}

// CutoffFrom returns the inclusive lower bound for the range, relative to now.
// The zero time (and true==false for bounded) means no lower bound.
func (r DateRange) CutoffFrom(now time.Time) (time.Time, bool) {
	switch r {
	case DateRangeLast7:
		return now.AddDate(0, 0, -7), true
	case DateRangeLast30:
		return now.AddDate(0, 0, -30), true
	case DateRangeLast90:
		return now.AddDate(0, 0, -90), true
	default:
		return time.Time{}, false
	}
}
