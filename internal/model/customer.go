package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Customer struct {
	ID           string           `db:"id"`
	Email        string           `db:"email"`
	FirstName    string           `db:"first_name"`
	LastName     string           `db:"last_name"`
	CompanyID    string           `db:"company_id"`
	APIKey       string           `db:"api_key"`
	Status       string           `db:"status"`         // active|suspended
	RateLimitRPS *int             `db:"rate_limit_rps"` // nullable
	Metadata     CustomerMetadata `db:"metadata"`
	Version      int64            `db:"version"`
	CreatedAt    time.Time        `db:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at"`

	// MetadataErr is set by listings when the stored metadata does not
	// decode; Metadata is then empty and must not be written back.
	MetadataErr error `db:"-"`
}

func (c Customer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

const (
	metaRecurrences     = "recurrences"
	metaPendingPayments = "pending_payments"
)

// CustomerMetadata is the open-ended metadata bag of a customer. Only
// "recurrences" and "pending_payments" are interpreted; every other key is
// carried through untouched.
type CustomerMetadata struct {
	Recurrences     []Recurrence
	PendingPayments []PendingPayment

	extra map[string]json.RawMessage
}

// Recurrence returns a pointer into the slice, or nil.
func (m *CustomerMetadata) Recurrence(id string) *Recurrence {
	for i := range m.Recurrences {
		if m.Recurrences[i].ID == id {
			return &m.Recurrences[i]
		}
	}
	return nil
}

func (m *CustomerMetadata) RemoveRecurrence(id string) bool {
	for i := range m.Recurrences {
		if m.Recurrences[i].ID == id {
			m.Recurrences = append(m.Recurrences[:i], m.Recurrences[i+1:]...)
			return true
		}
	}
	return false
}

// Extra returns the raw value of an uninterpreted key.
func (m CustomerMetadata) Extra(key string) (json.RawMessage, bool) {
	v, ok := m.extra[key]
	return v, ok
}

func (m CustomerMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.extra)+2)
	for k, v := range m.extra {
		out[k] = v
	}
	recs := m.Recurrences
	if recs == nil {
		recs = []Recurrence{}
	}
	pps := m.PendingPayments
	if pps == nil {
		pps = []PendingPayment{}
	}
	out[metaRecurrences] = recs
	out[metaPendingPayments] = pps
	return json.Marshal(out)
}

func (m *CustomerMetadata) UnmarshalJSON(b []byte) error {
	*m = CustomerMetadata{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if v, ok := raw[metaRecurrences]; ok {
		if err := json.Unmarshal(v, &m.Recurrences); err != nil {
			return fmt.Errorf("decode recurrences: %w", err)
		}
		delete(raw, metaRecurrences)
	}
	if v, ok := raw[metaPendingPayments]; ok {
		if err := json.Unmarshal(v, &m.PendingPayments); err != nil {
			return fmt.Errorf("decode pending_payments: %w", err)
		}
		delete(raw, metaPendingPayments)
	}
	if len(raw) > 0 {
		m.extra = raw
	}
	return nil
}

// Scan implements sql.Scanner for the JSON metadata column.
func (m *CustomerMetadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = CustomerMetadata{}
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
}

// Value implements driver.Valuer.
func (m CustomerMetadata) Value() (driver.Value, error) {
	return m.MarshalJSON()
}
