// Package timefmt renders and parses the UTC-millisecond timestamps used
// throughout internal/model (Message.CreatedAt, Channel.LastMsgTimestamp,
// ...) for display in one configured timezone, and converts user-entered
// local time strings back into that same storage representation.
package timefmt

import (
	"fmt"
	"time"
)

const (
	standardLayout = "2006-01-02 15:04:05"
	shortLayout    = "2006-01-02 15:04"
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
)

// Formatter converts UTC-millisecond timestamps to and from one fixed
// timezone offset.
type Formatter struct {
	loc *time.Location
}

// New builds a Formatter for offsetSeconds east of UTC (Config's
// timezone_offset_seconds). An offset of 0 renders in UTC.
func New(offsetSeconds int) *Formatter {
	return &Formatter{loc: time.FixedZone("", offsetSeconds)}
}

// NewLocal builds a Formatter using the host's current local offset, the
// default when no explicit offset is configured.
func NewLocal() *Formatter {
	_, offset := time.Now().Zone()
	return New(offset)
}

func (f *Formatter) toZone(utcMillis int64) time.Time {
	return time.UnixMilli(utcMillis).In(f.loc)
}

// FormatStandard renders "YYYY-MM-DD HH:MM:SS" in the configured zone.
func (f *Formatter) FormatStandard(utcMillis int64) string {
	return f.toZone(utcMillis).Format(standardLayout)
}

// FormatShort renders "YYYY-MM-DD HH:MM".
func (f *Formatter) FormatShort(utcMillis int64) string {
	return f.toZone(utcMillis).Format(shortLayout)
}

// FormatDate renders "YYYY-MM-DD".
func (f *Formatter) FormatDate(utcMillis int64) string {
	return f.toZone(utcMillis).Format(dateLayout)
}

// FormatTime renders "HH:MM:SS".
func (f *Formatter) FormatTime(utcMillis int64) string {
	return f.toZone(utcMillis).Format(timeLayout)
}

// ParseToUTCTimestamp parses a "YYYY-MM-DD HH:MM:SS" string, interpreted
// in the configured zone, back into a UTC millisecond timestamp. It is
// the inverse of FormatStandard at one-second resolution:
// ParseToUTCTimestamp(FormatStandard(t)) == t for any t that is already
// aligned to a whole second.
func (f *Formatter) ParseToUTCTimestamp(s string) (int64, error) {
	t, err := time.ParseInLocation(standardLayout, s, f.loc)
	if err != nil {
		return 0, fmt.Errorf("timefmt: parse %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}

// IsSameDay reports whether two UTC-millisecond timestamps fall on the
// same calendar day in the configured zone.
func (f *Formatter) IsSameDay(aMillis, bMillis int64) bool {
	ya, ma, da := f.toZone(aMillis).Date()
	yb, mb, db := f.toZone(bMillis).Date()
	return ya == yb && ma == mb && da == db
}

// SecondsSince returns the number of whole seconds between utcMillis and
// now; positive means utcMillis is in the past.
func (f *Formatter) SecondsSince(utcMillis int64) int64 {
	return (time.Now().UnixMilli() - utcMillis) / 1000
}
