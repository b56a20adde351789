package market

import (
	"fmt"
	"time"
)

// Date is an ISO-8601 ordinal date: a year and a 1-based day of year.
// Ordering is lexicographic.
type Date struct {
	Year uint16
	Day  uint16
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year uint16) bool {
	return year%400 == 0 || (year%4 == 0 && year%100 != 0)
}

// DaysInYear returns 365 or 366.
func DaysInYear(year uint16) uint16 {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// Incr returns the next calendar day, rolling to (year+1, 1) past the end
// of the year.
func (d Date) Incr() Date {
	if d.Day >= DaysInYear(d.Year) {
		return Date{Year: d.Year + 1, Day: 1}
	}
	return Date{Year: d.Year, Day: d.Day + 1}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	return d.Day < other.Day
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return other.Before(d)
}

func (d Date) String() string {
	return fmt.Sprintf("%d-%d", d.Year, d.Day)
}

// DateOf converts an instant to the ordinal date of its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return Date{Year: uint16(u.Year()), Day: uint16(u.YearDay())}
}

// ParseDay parses an upstream YYYY-MM-DD date into an ordinal Date.
func ParseDay(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DateOf(t), nil
}
