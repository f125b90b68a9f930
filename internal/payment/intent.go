// Package payment unwraps provider session payloads into a tagged union and
// extracts settlement instructions from it.
//
// Providers nest the payment intent inconsistently inside a session's data
// (flat, under "payment_intent", or twice under "payment_intent"). Each
// provider gets one Adapter that reports which Shape it found, so callers
// never chain optional lookups over raw maps.
package payment

import (
	"slices"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/stripe/stripe-go/v78"
)

type Shape int

const (
	ShapeNone Shape = iota
	ShapeFlat
	ShapeNested
	ShapeDoubleNested
	ShapeClientSecret
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "flat"
	case ShapeNested:
		return "nested"
	case ShapeDoubleNested:
		return "double_nested"
	case ShapeClientSecret:
		return "client_secret"
	default:
		return "none"
	}
}

type Intent struct {
	ID                 string                     `json:"id"`
	Status             stripe.PaymentIntentStatus `json:"status"`
	ClientSecret       string                     `json:"client_secret"`
	PaymentMethodTypes []string                   `json:"payment_method_types"`
	NextAction         *NextAction                `json:"next_action"`
}

type NextAction struct {
	Type                 string         `json:"type"`
	BoletoDisplayDetails *BoletoDisplay `json:"boleto_display_details"`
	PixDisplayQRCode     *PixDisplay    `json:"pix_display_qr_code"`
}

type BoletoDisplay struct {
	Number           string `json:"number"`
	HostedVoucherURL string `json:"hosted_voucher_url"`
	PDF              string `json:"pdf"`
	ExpiresAt        int64  `json:"expires_at"`
}

type PixDisplay struct {
	Data                  string `json:"data"`
	ImageURLPNG           string `json:"image_url_png"`
	HostedInstructionsURL string `json:"hosted_instructions_url"`
	ExpiresAt             int64  `json:"expires_at"`
}

// Envelope is the unwrapped session payload.
type Envelope struct {
	Provider     string
	Shape        Shape
	Intent       *Intent // nil for ShapeNone and ShapeClientSecret
	ClientSecret string
}

func (e Envelope) Status() stripe.PaymentIntentStatus {
	if e.Intent == nil {
		return ""
	}
	return e.Intent.Status
}

// Succeeded reports whether the provider already settled the payment.
func (e Envelope) Succeeded() bool {
	return e.Status() == stripe.PaymentIntentStatusSucceeded
}

// MethodType maps a payment method to the provider's payment method type.
func MethodType(method model.PaymentMethod) string {
	if method == model.MethodCredit {
		return string(stripe.PaymentMethodTypeCard)
	}
	return string(method)
}

// ForMethod reports whether the session was created for method. Payloads
// that do not list their method types are judged by their next action.
func (e Envelope) ForMethod(method model.PaymentMethod) bool {
	if e.Intent == nil {
		return false
	}
	if len(e.Intent.PaymentMethodTypes) > 0 {
		return slices.Contains(e.Intent.PaymentMethodTypes, MethodType(method))
	}
	if method.Async() {
		return !e.Instructions(method).Empty()
	}
	return e.Intent.NextAction == nil
}

// Instructions extracts what the payer needs to settle an async method.
// Missing levels simply yield empty fields.
func (e Envelope) Instructions(method model.PaymentMethod) model.PaymentDetails {
	var d model.PaymentDetails
	if e.Intent == nil || e.Intent.NextAction == nil {
		return d
	}
	na := e.Intent.NextAction

	switch method {
	case model.MethodBoleto:
		if b := na.BoletoDisplayDetails; b != nil {
			d.BoletoLine = b.Number
			d.BoletoURL = b.HostedVoucherURL
			if d.BoletoURL == "" {
				d.BoletoURL = b.PDF
			}
			d.BoletoExpiresAt = unixToISO(b.ExpiresAt)
		}
	case model.MethodPix:
		if p := na.PixDisplayQRCode; p != nil {
			d.PixCode = p.Data
			d.PixQR = p.ImageURLPNG
			if d.PixQR == "" {
				d.PixQR = p.HostedInstructionsURL
			}
		}
	}
	return d
}

func unixToISO(sec int64) string {
	if sec <= 0 {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
