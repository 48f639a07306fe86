package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day. Any time-of-day component is dropped on construction.
type Date struct {
	t time.Time
}

// NewDate truncates t to midnight UTC of its calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate reads a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return NewDate(t), nil
}

// ParseWikibaseTime reads a Wikibase time value such as "+1956-03-01T00:00:00Z".
// Year or month precision values carry "00" components, which become 1.
func ParseWikibaseTime(s string) (Date, bool) {
	if !strings.HasPrefix(s, "+") {
		return Date{}, false
	}
	day, _, _ := strings.Cut(strings.TrimPrefix(s, "+"), "T")
	parts := strings.Split(day, "-")
	if len(parts) != 3 {
		return Date{}, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, false
		}
		nums[i] = n
	}
	if nums[1] == 0 {
		nums[1] = 1
	}
	if nums[2] == 0 {
		nums[2] = 1
	}
	return Date{t: time.Date(nums[0], time.Month(nums[1]), nums[2], 0, 0, 0, 0, time.UTC)}, true
}

// Wikibase time precisions.
const (
	PrecisionDecade = 8
	PrecisionYear   = 9
	PrecisionMonth  = 10
	PrecisionDay    = 11
)

// EndOfPeriod returns the last day of the period d starts when read at the
// given precision. Day precision and finer return d itself.
func EndOfPeriod(d Date, precision int) Date {
	y, m, _ := d.t.Date()
	switch {
	case precision >= PrecisionDay || precision == 0:
		return d
	case precision == PrecisionMonth:
		return Date{t: time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)}
	case precision == PrecisionDecade:
		return Date{t: time.Date(y-y%10+9, time.December, 31, 0, 0, 0, 0, time.UTC)}
	default:
		return Date{t: time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)}
	}
}

func (d Date) Time() time.Time { return d.t }

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) Year() int { return d.t.Year() }

func (d Date) After(o Date) bool { return d.t.After(o.t) }

func (d Date) String() string { return d.t.Format(dateLayout) }

// WikibaseTime renders the day in the Wikibase time value format.
func (d Date) WikibaseTime() string {
	return d.t.Format("+2006-01-02T15:04:05Z")
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DatePtr is a convenience for optional date fields.
func DatePtr(d Date) *Date { return &d }
