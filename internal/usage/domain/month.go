package domain

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

const monthLayout = "2006-01"

// Month is a calendar month in UTC, held as its first instant.
type Month struct {
	start time.Time
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{start: time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(raw string) (Month, error) {
	raw = strings.TrimSpace(raw)
	if !monthPattern.MatchString(raw) {
		return Month{}, ErrInvalidMonth
	}
	t, err := time.ParseInLocation(monthLayout, raw, time.UTC)
	if err != nil {
		return Month{}, ErrInvalidMonth
	}
	return Month{start: t}, nil
}

// ParseMonthPtr parses an optional month; blank input yields nil.
func ParseMonthPtr(raw string) (*Month, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	m, err := ParseMonth(raw)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m Month) Start() time.Time { return m.start }

// End is the first instant of the following month.
func (m Month) End() time.Time { return m.start.AddDate(0, 1, 0) }

func (m Month) Next() Month { return Month{start: m.End()} }

func (m Month) Prev() Month { return Month{start: m.start.AddDate(0, -1, 0)} }

func (m Month) AddMonths(n int) Month { return Month{start: m.start.AddDate(0, n, 0)} }

func (m Month) Before(o Month) bool { return m.start.Before(o.start) }

func (m Month) After(o Month) bool { return m.start.After(o.start) }

func (m Month) IsZero() bool { return m.start.IsZero() }

func (m Month) String() string { return m.start.Format(monthLayout) }

func (m Month) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Month) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return ErrInvalidMonth
	}
	parsed, err := ParseMonth(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

const dateLayout = "2006-01-02"

// ParseDate parses "YYYY-MM-DD" as midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// FormatDate renders a day as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
