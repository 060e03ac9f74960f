package workqueue

import (
	"errors"
	"fmt"
	"time"
)

const (
	compactLayout = "20060102"
	archiveLayout = "2006-01-02"
	humanLayout   = "January 02, 2006"
)

// ErrInvalidDate is returned when a snapshot date is not in YYYYMMDD form.
var ErrInvalidDate = errors.New("invalid snapshot date")

// ParseSnapshotDate parses a compact YYYYMMDD date as used by dump directories
// and on the command line. "2015-07-03" is rejected.
func ParseSnapshotDate(s string) (time.Time, error) {
	if len(s) != len(compactLayout) {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYYMMDD)", ErrInvalidDate, s)
	}
	t, err := time.Parse(compactLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYYMMDD)", ErrInvalidDate, s)
	}
	return t, nil
}

// ParseArchiveDate parses the canonical YYYY-MM-DD form stored in the table.
func ParseArchiveDate(s string) (time.Time, error) {
	t, err := time.Parse(archiveLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDate, s)
	}
	return t, nil
}

// CompactDate formats t as YYYYMMDD.
func CompactDate(t time.Time) string {
	return t.Format(compactLayout)
}

// ArchiveDate formats t as YYYY-MM-DD, the form used for storage and for the
// archive "date" metadata field.
func ArchiveDate(t time.Time) string {
	return t.Format(archiveLayout)
}

// HumanDate formats t as "July 03, 2015".
func HumanDate(t time.Time) string {
	return t.Format(humanLayout)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
