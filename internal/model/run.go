package model

import "time"

type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunPending   RunOutcome = "pending"
	RunPaused    RunOutcome = "paused"
)

// RunRecord is one scheduler execution of a recurrence (ClickHouse row).
type RunRecord struct {
	ID                  string     `db:"id"                    json:"id"`
	CustomerID          string     `db:"customer_id"           json:"customer_id"`
	RecurrenceID        string     `db:"recurrence_id"         json:"recurrence_id"`
	Method              string     `db:"method"                json:"method"`
	Outcome             RunOutcome `db:"outcome"               json:"outcome"`
	Error               string     `db:"error"                 json:"error,omitempty"`
	CartID              string     `db:"cart_id"               json:"cart_id,omitempty"`
	PaymentCollectionID string     `db:"payment_collection_id" json:"payment_collection_id,omitempty"`
	OrderID             string     `db:"order_id"              json:"order_id,omitempty"`
	RanAt               time.Time  `db:"ran_at"                json:"ran_at"`
}
