package model

// Email is a rendered message ready for a delivery provider.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Envelope is the payload published to Kafka (via Debezium outbox SMT).
type Envelope struct {
	ID         string `json:"id"` // ULID
	CustomerID string `json:"customer_id"`
	Kind       string `json:"kind"` // payment_instructions|order_confirmed|recurrence_paused
	Email      Email  `json:"email"`
}
