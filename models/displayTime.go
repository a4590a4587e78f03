package models

import (
	"math"
	"regexp"
	"time"
)

const (
	displayDateLayout     = "02-Jan"
	displayDateTimeLayout = "02-Jan, 15:04"

	// Exclusive bounds of numeric cells treated as spreadsheet date serials.
	SerialLowerBound = 1.0
	SerialUpperBound = 100000.0
)

// Spreadsheet serial day 0.
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var displayTimestampPattern = regexp.MustCompile(`^\d{1,2}-(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)(,\s*\d{1,2}:\d{2})?$`)

// FormatDisplayTime renders t as "dd-Mon, HH:mm", the format used for Done stamps.
func FormatDisplayTime(t time.Time) string {
	return t.Format(displayDateTimeLayout)
}

// FormatDisplayDate renders t as "dd-Mon".
func FormatDisplayDate(t time.Time) string {
	return t.Format(displayDateLayout)
}

// IsDisplayTimestamp reports whether s has the "dd-Mon" or "dd-Mon, HH:mm" shape.
func IsDisplayTimestamp(s string) bool {
	return displayTimestampPattern.MatchString(s)
}

// SerialToDisplay converts a spreadsheet date serial into its display string.
// Values outside (SerialLowerBound, SerialUpperBound) are not dates and return false.
// The conversion is one-way: the serial itself is not kept.
func SerialToDisplay(v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	if v <= SerialLowerBound || v >= SerialUpperBound {
		return "", false
	}

	whole := math.Floor(v)
	frac := v - whole
	t := spreadsheetEpoch.AddDate(0, 0, int(whole))
	if frac == 0 {
		return FormatDisplayDate(t), true
	}
	secs := int64(math.Round(frac * 86400))
	t = t.Add(time.Duration(secs) * time.Second)
	return FormatDisplayTime(t), true
}
