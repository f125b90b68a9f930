package model

import "time"

// PaymentDetails holds the settlement instructions shown to the payer.
type PaymentDetails struct {
	BoletoLine      string `json:"boleto_line,omitempty"`
	BoletoURL       string `json:"boleto_url,omitempty"`
	BoletoExpiresAt string `json:"boleto_expires_at,omitempty"`
	PixCode         string `json:"pix_code,omitempty"`
	PixQR           string `json:"pix_qr,omitempty"`
}

func (d PaymentDetails) Empty() bool {
	return d == PaymentDetails{}
}

// PendingPayment tracks an asynchronous (boleto/pix) payment that was
// initiated but has not settled yet. Unique by PaymentCollectionID.
type PendingPayment struct {
	PaymentCollectionID string         `json:"payment_collection_id"`
	CartID              string         `json:"cart_id"`
	Method              PaymentMethod  `json:"method"`
	CreatedAt           time.Time      `json:"created_at"`
	Details             PaymentDetails `json:"details"`
}
