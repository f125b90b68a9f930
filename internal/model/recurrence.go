package model

import (
	"encoding/json"
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) Valid() bool {
	return f == FrequencyWeekly || f == FrequencyBiweekly || f == FrequencyMonthly
}

// ParseFrequency normalizes input. Returns (value, false) when unknown.
func ParseFrequency(s string) (Frequency, bool) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	return f, f.Valid()
}

type PaymentMethod string

const (
	MethodCredit PaymentMethod = "credit"
	MethodPix    PaymentMethod = "pix"
	MethodBoleto PaymentMethod = "boleto"
)

func (m PaymentMethod) String() string { return string(m) }

func (m PaymentMethod) Valid() bool {
	return m == MethodCredit || m == MethodPix || m == MethodBoleto
}

// Async reports whether settlement happens outside the checkout session.
func (m PaymentMethod) Async() bool {
	return m == MethodPix || m == MethodBoleto
}

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Valid()
}

type RecurrenceStatus string

const (
	RecurrenceActive RecurrenceStatus = "active"
	RecurrencePaused RecurrenceStatus = "paused"
)

func (s RecurrenceStatus) Valid() bool {
	return s == RecurrenceActive || s == RecurrencePaused
}

type LineItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Recurrence is a saved purchase schedule. It lives inside the owning
// customer's metadata bag under "recurrences".
type Recurrence struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Frequency     Frequency        `json:"frequency"`
	DayOfWeek     *int             `json:"day_of_week,omitempty"`
	DayOfMonth    *int             `json:"day_of_month,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	Items         []LineItem       `json:"items"`
	CompanyID     string           `json:"company_id"`
	StartDate     time.Time        `json:"start_date"`
	Status        RecurrenceStatus `json:"status"`
	NextRunAt     *time.Time       `json:"next_run_at"`
	LastRunAt     *time.Time       `json:"last_run_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// UnmarshalJSON accepts start_date as a calendar date or a timestamp.
func (r *Recurrence) UnmarshalJSON(b []byte) error {
	type plain Recurrence
	aux := struct {
		*plain
		StartDate Date `json:"start_date"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.StartDate = aux.StartDate.Time
	return nil
}

func (r Recurrence) MarshalJSON() ([]byte, error) {
	type plain Recurrence
	return json.Marshal(struct {
		plain
		StartDate Date `json:"start_date"`
	}{plain: plain(r), StartDate: Date{Time: r.StartDate}})
}

// Due reports whether the recurrence should run at now.
func (r Recurrence) Due(now time.Time) bool {
	return r.Status == RecurrenceActive && r.NextRunAt != nil && !r.NextRunAt.After(now)
}

// Pause moves the recurrence to paused and clears its schedule.
func (r *Recurrence) Pause(reason string, now time.Time) {
	r.Status = RecurrencePaused
	r.NextRunAt = nil
	r.LastError = reason
	r.UpdatedAt = now
}
