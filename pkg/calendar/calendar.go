// Package calendar holds the timezone-free date and time-of-day values used
// at every scheduling boundary. A Date is never an instant: it is compared and
// serialized by its YYYY-MM-DD form only.
package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrInvalidTime = errors.New("invalid time")
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	exactDatePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	prefixDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	clockPattern      = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// genericLayouts are tried, in order, for strings that do not start with a
// YYYY-MM-DD prefix.
var genericLayouts = []string{
	"2006/01/02",
	"2006/1/2",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Mon Jan 2 2006",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.RFC822,
	time.RFC822Z,
	time.ANSIC,
	time.UnixDate,
}

// Date is a calendar day with no time-of-day or zone.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate builds a Date, rejecting days that do not exist (2025-02-30).
func NewDate(year int, month time.Month, day int) (Date, error) {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, int(month), day)
	}
	return Date{year: year, month: month, day: day}, nil
}

// MustDate is NewDate for literals known to be valid.
func MustDate(year int, month time.Month, day int) Date {
	d, err := NewDate(year, month, day)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDate accepts exactly YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	if !exactDatePattern.MatchString(s) {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	year, _ := strconv.Atoi(s[0:4])
	month, _ := strconv.Atoi(s[5:7])
	day, _ := strconv.Atoi(s[8:10])
	return NewDate(year, time.Month(month), day)
}

// DateOf reads the calendar fields of t in t's own location. It never
// converts to UTC first.
func DateOf(t time.Time) Date {
	return Date{year: t.Year(), month: t.Month(), day: t.Day()}
}

// DateOfUTC is for values the driver hands back as UTC midnight.
func DateOfUTC(t time.Time) Date {
	return DateOf(t.UTC())
}

// NormalizeDate turns any supported representation into a Date.
func NormalizeDate(v any) (Date, error) {
	switch x := v.(type) {
	case nil:
		return Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	case Date:
		if x.IsZero() {
			return Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
		}
		return x, nil
	case *Date:
		if x == nil {
			return Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
		}
		return NormalizeDate(*x)
	case time.Time:
		if x.IsZero() {
			return Date{}, fmt.Errorf("%w: zero time", ErrInvalidDate)
		}
		return DateOf(x), nil
	case *time.Time:
		if x == nil {
			return Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
		}
		return NormalizeDate(*x)
	case string:
		return normalizeDateString(x)
	default:
		return Date{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDate, v)
	}
}

func normalizeDateString(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	if exactDatePattern.MatchString(s) {
		return ParseDate(s)
	}
	if prefixDatePattern.MatchString(s) {
		return ParseDate(s[:10])
	}
	for _, layout := range genericLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

func (d Date) Year() int { return d.year }
func (d Date) Month() time.Month { return d.month }
func (d Date) Day() int { return d.day }
func (d Date) IsZero() bool { return d == Date{} }
func (d Date) Before(o Date) bool { return d.String() < o.String() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// Weekday is computed on a UTC midnight so the answer never depends on the
// process zone.
func (d Date) Weekday() time.Weekday {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC).Weekday()
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.year, d.month, d.day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	parsed, err := NormalizeDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := NormalizeDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a time of day at minute precision.
type Clock struct {
	hour   int
	minute int
	valid  bool
}

// NewClock validates hour in [0,23] and minute in [0,59].
func NewClock(hour, minute int) (Clock, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, hour, minute)
	}
	return Clock{hour: hour, minute: minute, valid: true}, nil
}

func MustClock(hour, minute int) Clock {
	c, err := NewClock(hour, minute)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockFromMinutes converts minutes since midnight back to a Clock.
func ClockFromMinutes(m int) (Clock, error) {
	if m < 0 {
		return Clock{}, fmt.Errorf("%w: %d minutes", ErrInvalidTime, m)
	}
	return NewClock(m/60, m%60)
}

// ParseClock accepts exactly HH:MM.
func ParseClock(s string) (Clock, error) {
	if !clockPattern.MatchString(s) {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hour, _ := strconv.Atoi(s[0:2])
	minute, _ := strconv.Atoi(s[3:5])
	return NewClock(hour, minute)
}

// NormalizeTime keeps the first five characters of an HH:MM[:SS...] string.
func NormalizeTime(raw string) (Clock, error) {
	s := strings.TrimSpace(raw)
	if len(s) > 5 {
		s = s[:5]
	}
	return ParseClock(s)
}

func (c Clock) Hour() int { return c.hour }
func (c Clock) Minute() int { return c.minute }
func (c Clock) IsZero() bool { return !c.valid }
func (c Clock) Minutes() int { return c.hour*60 + c.minute }
func (c Clock) Before(o Clock) bool { return c.Minutes() < o.Minutes() }

func (c Clock) String() string {
	if !c.valid {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", c.hour, c.minute)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	if !c.valid {
		return []byte("null"), nil
	}
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Clock{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTime, string(b))
	}
	parsed, err := NormalizeTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := NormalizeTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
