package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Adapter unwraps one provider's session data.
type Adapter interface {
	Unwrap(data json.RawMessage) (Envelope, error)
}

type AdapterFunc func(data json.RawMessage) (Envelope, error)

func (f AdapterFunc) Unwrap(data json.RawMessage) (Envelope, error) { return f(data) }

// adapters is keyed by provider id prefix, longest match wins.
var adapters = map[string]Adapter{
	"pp_stripe": AdapterFunc(unwrapStripe),
	"pp_system": AdapterFunc(unwrapSystem),
}

// Register installs an adapter for a provider id prefix.
func Register(prefix string, a Adapter) {
	adapters[prefix] = a
}

// Unwrap picks the adapter for providerID and decodes data.
func Unwrap(providerID string, data json.RawMessage) (Envelope, error) {
	var (
		best    Adapter
		bestLen int
	)
	for prefix, a := range adapters {
		if strings.HasPrefix(providerID, prefix) && len(prefix) > bestLen {
			best, bestLen = a, len(prefix)
		}
	}
	if best == nil {
		return Envelope{}, fmt.Errorf("no payload adapter for provider %q", providerID)
	}
	env, err := best.Unwrap(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("unwrap %s session data: %w", providerID, err)
	}
	env.Provider = providerID
	return env, nil
}

// unwrapStripe handles the three nestings the Stripe-backed providers emit:
//
//	{"id":"pi_..","status":..,"next_action":..}                     flat
//	{"client_secret":..,"payment_intent":{"id":"pi_..",..}}         nested
//	{"payment_intent":{"payment_intent":{"id":"pi_..",..}}}         double nested
func unwrapStripe(data json.RawMessage) (Envelope, error) {
	fields, err := object(data)
	if err != nil || fields == nil {
		return Envelope{Shape: ShapeNone}, err
	}
	secret := stringField(fields, "client_secret")

	if inner, ok := firstOf(fields, "payment_intent", "intent"); ok {
		innerFields, err := object(inner)
		if err != nil {
			// expanded as a bare id
			var id string
			if json.Unmarshal(inner, &id) == nil && id != "" {
				return Envelope{Shape: ShapeNested, Intent: &Intent{ID: id}, ClientSecret: secret}, nil
			}
			return Envelope{}, err
		}
		if deeper, ok := firstOf(innerFields, "payment_intent", "intent"); ok {
			intent, err := decodeIntent(deeper)
			if err != nil {
				return Envelope{}, err
			}
			return Envelope{Shape: ShapeDoubleNested, Intent: intent, ClientSecret: pickSecret(secret, intent)}, nil
		}
		intent, err := decodeIntent(inner)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Shape: ShapeNested, Intent: intent, ClientSecret: pickSecret(secret, intent)}, nil
	}

	if _, ok := fields["status"]; ok {
		intent, err := decodeIntent(data)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Shape: ShapeFlat, Intent: intent, ClientSecret: pickSecret(secret, intent)}, nil
	}

	if secret != "" {
		return Envelope{Shape: ShapeClientSecret, ClientSecret: secret}, nil
	}
	return Envelope{Shape: ShapeNone}, nil
}

// unwrapSystem covers the manual provider, which never carries an intent.
func unwrapSystem(json.RawMessage) (Envelope, error) {
	return Envelope{Shape: ShapeNone}, nil
}

func decodeIntent(raw json.RawMessage) (*Intent, error) {
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return &in, nil
}

func object(raw json.RawMessage) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("session data is not an object: %w", err)
	}
	return m, nil
}

func firstOf(m map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && len(bytes.TrimSpace(v)) > 0 && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]json.RawMessage, key string) string {
	var s string
	if v, ok := m[key]; ok {
		_ = json.Unmarshal(v, &s)
	}
	return s
}

func pickSecret(outer string, in *Intent) string {
	if outer != "" {
		return outer
	}
	if in != nil {
		return in.ClientSecret
	}
	return ""
}
