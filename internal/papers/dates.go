package papers

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in URLs and cache keys.
const DateLayout = "2006-01-02"

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, raw)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Today returns the current date for clk.
func Today(clk Clock) string {
	return FormatDate(clk.Now())
}

// ArchiveExt is the file extension of archived listing pages.
const ArchiveExt = ".html"

// ArchiveKey returns the blob key holding the raw listing page for date.
func ArchiveKey(prefix, date string) string {
	return path.Join(prefix, date+ArchiveExt)
}

// ArchiveDate recovers the listing date from a key built by ArchiveKey.
func ArchiveDate(key string) (string, bool) {
	base := path.Base(key)
	if !strings.HasSuffix(base, ArchiveExt) {
		return "", false
	}
	date := strings.TrimSuffix(base, ArchiveExt)
	if _, err := ParseDate(date); err != nil {
		return "", false
	}
	return date, true
}

// Age buckets reported by cache status.
const (
	AgeWithinHour = "1 hour"
	AgeWithinDay  = "24 hours"
	AgeWithinWeek = "7 days"
	AgeOlder      = "older"
)

// AgeBucket maps an entry age onto a distribution bucket.
func AgeBucket(age time.Duration) string {
	switch {
	case age < time.Hour:
		return AgeWithinHour
	case age < 24*time.Hour:
		return AgeWithinDay
	case age < 7*24*time.Hour:
		return AgeWithinWeek
	default:
		return AgeOlder
	}
}
