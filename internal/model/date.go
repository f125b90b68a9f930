package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Date is a JSON time that also accepts a calendar date ("2024-01-01").
// A date-only value decodes to midnight UTC.
type Date struct {
	time.Time
}

// ParseDate accepts YYYY-MM-DD, RFC3339 and RFC3339 with fractional seconds.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

// IsDateOnly reports whether t carries no time of day, as a decoded
// calendar date does.
func IsDateOnly(t time.Time) bool {
	if t.IsZero() || t.Location() != time.UTC {
		return false
	}
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

func (d *Date) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if IsDateOnly(d.Time) {
		return json.Marshal(d.Format(DateLayout))
	}
	return json.Marshal(d.Time)
}
