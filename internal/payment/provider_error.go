package payment

import (
	"encoding/json"
	"regexp"

	"github.com/stripe/stripe-go/v78"
)

var alreadySucceededPattern = regexp.MustCompile(`(?i)already\s+(been\s+)?(succeeded|confirmed|captured|paid)`)

// ProviderError is the decoded error body of a failed provider call. The
// commerce API either forwards Stripe's {"error":{...}} envelope or flattens
// it to {"code":..,"message":..}.
type ProviderError struct {
	Code          string
	Message       string
	IntentStatus  stripe.PaymentIntentStatus
	PaymentIntent string
}

func ParseProviderError(body []byte) (ProviderError, bool) {
	var wrapped struct {
		Error *stripe.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil {
		return fromStripe(wrapped.Error), true
	}

	var flat stripe.Error
	if err := json.Unmarshal(body, &flat); err == nil && (flat.Code != "" || flat.Msg != "") {
		return fromStripe(&flat), true
	}
	return ProviderError{}, false
}

func fromStripe(se *stripe.Error) ProviderError {
	pe := ProviderError{Code: string(se.Code), Message: se.Msg}
	if se.PaymentIntent != nil {
		pe.PaymentIntent = se.PaymentIntent.ID
		pe.IntentStatus = se.PaymentIntent.Status
	}
	return pe
}

// AlreadySucceeded classifies a confirmation failure caused by the payment
// having settled earlier. An attached intent status is authoritative. Without
// one, only an unexpected-state error (or a bare message) is matched against
// the message pattern.
func (e ProviderError) AlreadySucceeded() bool {
	if e.IntentStatus != "" {
		return e.IntentStatus == stripe.PaymentIntentStatusSucceeded
	}
	if e.Code != "" && !e.UnexpectedState() {
		return false
	}
	return alreadySucceededPattern.MatchString(e.Message)
}

// UnexpectedState reports Stripe's payment_intent_unexpected_state code.
func (e ProviderError) UnexpectedState() bool {
	return e.Code == string(stripe.ErrorCodePaymentIntentUnexpectedState)
}
