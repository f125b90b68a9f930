package commerce

import (
	"encoding/json"
	"time"
)

type Address struct {
	FirstName   string         `json:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty"`
	Company     string         `json:"company,omitempty"`
	Address1    string         `json:"address_1,omitempty"`
	Address2    string         `json:"address_2,omitempty"`
	City        string         `json:"city,omitempty"`
	Province    string         `json:"province,omitempty"`
	PostalCode  string         `json:"postal_code,omitempty"`
	CountryCode string         `json:"country_code,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type LineItem struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type ShippingMethod struct {
	ID               string `json:"id"`
	ShippingOptionID string `json:"shipping_option_id"`
}

type ShippingOption struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

const (
	SessionAuthorized = "authorized"
	SessionCaptured   = "captured"

	CollectionCompleted  = "completed"
	CollectionAuthorized = "authorized"
)

type PaymentSession struct {
	ID         string          `json:"id"`
	ProviderID string          `json:"provider_id"`
	Status     string          `json:"status"`
	Data       json.RawMessage `json:"data"`
}

type PaymentCollection struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Amount          int64            `json:"amount"`
	PaymentSessions []PaymentSession `json:"payment_sessions"`
}

// Session returns the newest session created for providerID.
func (pc *PaymentCollection) Session(providerID string) (PaymentSession, bool) {
	if pc == nil {
		return PaymentSession{}, false
	}
	for i := len(pc.PaymentSessions) - 1; i >= 0; i-- {
		if pc.PaymentSessions[i].ProviderID == providerID {
			return pc.PaymentSessions[i], true
		}
	}
	return PaymentSession{}, false
}

// Settled reports whether the commerce side considers the collection paid.
func (pc *PaymentCollection) Settled() bool {
	if pc == nil {
		return false
	}
	return pc.Status == CollectionCompleted || pc.Status == CollectionAuthorized
}

type Cart struct {
	ID                string             `json:"id"`
	Email             string             `json:"email"`
	RegionID          string             `json:"region_id"`
	CustomerID        string             `json:"customer_id"`
	Items             []LineItem         `json:"items"`
	ShippingAddress   *Address           `json:"shipping_address"`
	ShippingMethods   []ShippingMethod   `json:"shipping_methods"`
	PaymentCollection *PaymentCollection `json:"payment_collection"`
	CompletedAt       *time.Time         `json:"completed_at"`
}

func (c *Cart) HasShippingAddress() bool {
	return c.ShippingAddress != nil && c.ShippingAddress.Address1 != ""
}

func (c *Cart) HasShippingMethod() bool {
	return len(c.ShippingMethods) > 0
}

type CreateCartInput struct {
	RegionID       string `json:"region_id,omitempty"`
	SalesChannelID string `json:"sales_channel_id,omitempty"`
	Email          string `json:"email,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
}

type UpdateCartInput struct {
	Email           string   `json:"email,omitempty"`
	ShippingAddress *Address `json:"shipping_address,omitempty"`
	BillingAddress  *Address `json:"billing_address,omitempty"`
}

type Order struct {
	ID        string `json:"id"`
	DisplayID int64  `json:"display_id"`
}
