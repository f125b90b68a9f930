// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"github.com/jmehdipour/recurring-orders/internal/errs"
)

// Commerce is an in-memory commerce.Client. Zero value is not usable; call
// NewCommerce.
type Commerce struct {
	mu sync.Mutex

	ProviderID      string
	ShippingOptions []commerce.ShippingOption
	// NoShippingForVariant makes ListShippingOptions return nothing for any
	// cart holding one of these variants.
	NoShippingForVariant map[string]bool
	// SessionData builds the provider payload stored on a new session.
	// Defaults to DefaultSessionData.
	SessionData func(providerID string, data map[string]any) json.RawMessage
	ConfirmErr  error
	CompleteErr error
	FailOn      map[string]error // op name -> error

	carts       map[string]*commerce.Cart
	collections map[string]*commerce.PaymentCollection
	cartOfPC    map[string]string
	seq         int
	calls       []string
}

var _ commerce.Client = (*Commerce)(nil)

func NewCommerce(providerID string) *Commerce {
	return &Commerce{
		ProviderID:           providerID,
		ShippingOptions:      []commerce.ShippingOption{{ID: "so_standard", Name: "Standard", Amount: 1500}},
		NoShippingForVariant: map[string]bool{},
		FailOn:               map[string]error{},
		carts:                map[string]*commerce.Cart{},
		collections:          map[string]*commerce.PaymentCollection{},
		cartOfPC:             map[string]string{},
	}
}

func (f *Commerce) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Commerce) record(op string) error {
	f.calls = append(f.calls, op)
	return f.FailOn[op]
}

// Calls returns the op names invoked so far.
func (f *Commerce) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many times op was invoked.
func (f *Commerce) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Commerce) cart(id string) (*commerce.Cart, error) {
	c, ok := f.carts[id]
	if !ok {
		return nil, errs.NotFound("cart", id)
	}
	return c, nil
}

func clone(c *commerce.Cart) *commerce.Cart {
	cp := *c
	cp.Items = append([]commerce.LineItem(nil), c.Items...)
	cp.ShippingMethods = append([]commerce.ShippingMethod(nil), c.ShippingMethods...)
	return &cp
}

// PutCart seeds a cart directly.
func (f *Commerce) PutCart(c commerce.Cart) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[c.ID] = &c
}

func (f *Commerce) CreateCart(_ context.Context, in commerce.CreateCartInput) (*commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateCart"); err != nil {
		return nil, err
	}
	c := &commerce.Cart{ID: f.next("cart"), Email: in.Email, RegionID: in.RegionID, CustomerID: in.CustomerID}
	f.carts[c.ID] = c
	return clone(c), nil
}

func (f *Commerce) GetCart(_ context.Context, id string) (*commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetCart"); err != nil {
		return nil, err
	}
	c, err := f.cart(id)
	if err != nil {
		return nil, err
	}
	return clone(c), nil
}

func (f *Commerce) UpdateCart(_ context.Context, id string, in commerce.UpdateCartInput) (*commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateCart"); err != nil {
		return nil, err
	}
	c, err := f.cart(id)
	if err != nil {
		return nil, err
	}
	if in.Email != "" {
		c.Email = in.Email
	}
	if in.ShippingAddress != nil {
		a := *in.ShippingAddress
		c.ShippingAddress = &a
	}
	return clone(c), nil
}

func (f *Commerce) AddLineItem(_ context.Context, cartID, variantID string, qty int) (*commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddLineItem"); err != nil {
		return nil, err
	}
	c, err := f.cart(cartID)
	if err != nil {
		return nil, err
	}
	c.Items = append(c.Items, commerce.LineItem{ID: f.next("item"), VariantID: variantID, Quantity: qty})
	return clone(c), nil
}

func (f *Commerce) UpdateLineItem(_ context.Context, cartID, lineID string, qty int) (*commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateLineItem"); err != nil {
		return nil, err
	}
	c, err := f.cart(cartID)
	if err != nil {
		return nil, err
	}
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			c.Items[i].Quantity = qty
			return clone(c), nil
		}
	}
	return nil, errs.NotFound("line item", lineID)
}

func (f *Commerce) DeleteLineItem(_ context.Context, cartID, lineID string) (*commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteLineItem"); err != nil {
		return nil, err
	}
	c, err := f.cart(cartID)
	if err != nil {
		return nil, err
	}
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return clone(c), nil
		}
	}
	return nil, errs.NotFound("line item", lineID)
}

func (f *Commerce) ListShippingOptions(_ context.Context, cartID string) ([]commerce.ShippingOption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListShippingOptions"); err != nil {
		return nil, err
	}
	c, err := f.cart(cartID)
	if err != nil {
		return nil, err
	}
	for _, it := range c.Items {
		if f.NoShippingForVariant[it.VariantID] {
			return nil, nil
		}
	}
	return append([]commerce.ShippingOption(nil), f.ShippingOptions...), nil
}

func (f *Commerce) AddShippingMethod(_ context.Context, cartID, optionID string) (*commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddShippingMethod"); err != nil {
		return nil, err
	}
	c, err := f.cart(cartID)
	if err != nil {
		return nil, err
	}
	c.ShippingMethods = []commerce.ShippingMethod{{ID: f.next("sm"), ShippingOptionID: optionID}}
	return clone(c), nil
}

func (f *Commerce) CreatePaymentCollection(_ context.Context, cartID string) (*commerce.PaymentCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePaymentCollection"); err != nil {
		return nil, err
	}
	c, err := f.cart(cartID)
	if err != nil {
		return nil, err
	}
	if c.PaymentCollection != nil {
		pc := *f.collections[c.PaymentCollection.ID]
		return &pc, nil
	}
	pc := &commerce.PaymentCollection{ID: f.next("pc"), Status: "not_paid", Amount: 10000}
	f.collections[pc.ID] = pc
	f.cartOfPC[pc.ID] = cartID
	c.PaymentCollection = pc
	cp := *pc
	return &cp, nil
}

func (f *Commerce) GetPaymentCollection(_ context.Context, id string) (*commerce.PaymentCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetPaymentCollection"); err != nil {
		return nil, err
	}
	pc, ok := f.collections[id]
	if !ok {
		return nil, errs.NotFound("payment collection", id)
	}
	cp := *pc
	cp.PaymentSessions = append([]commerce.PaymentSession(nil), pc.PaymentSessions...)
	return &cp, nil
}

func (f *Commerce) CreatePaymentSession(_ context.Context, pcID, providerID string, data map[string]any) (*commerce.PaymentCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePaymentSession"); err != nil {
		return nil, err
	}
	pc, ok := f.collections[pcID]
	if !ok {
		return nil, errs.NotFound("payment collection", pcID)
	}
	build := f.SessionData
	if build == nil {
		build = DefaultSessionData
	}
	// a new session replaces the provider's previous one
	kept := pc.PaymentSessions[:0]
	for _, s := range pc.PaymentSessions {
		if s.ProviderID != providerID {
			kept = append(kept, s)
		}
	}
	pc.PaymentSessions = append(kept, commerce.PaymentSession{
		ID:         f.next("ps"),
		ProviderID: providerID,
		Status:     "pending",
		Data:       build(providerID, data),
	})
	cp := *pc
	return &cp, nil
}

func (f *Commerce) ConfirmPaymentSession(_ context.Context, pcID, sessionID string) (*commerce.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ConfirmPaymentSession"); err != nil {
		return nil, err
	}
	if f.ConfirmErr != nil {
		return nil, f.ConfirmErr
	}
	pc, ok := f.collections[pcID]
	if !ok {
		return nil, errs.NotFound("payment collection", pcID)
	}
	for i := range pc.PaymentSessions {
		if pc.PaymentSessions[i].ID == sessionID {
			pc.PaymentSessions[i].Status = commerce.SessionAuthorized
			s := pc.PaymentSessions[i]
			return &s, nil
		}
	}
	return nil, errs.NotFound("payment session", sessionID)
}

func (f *Commerce) CompleteCart(_ context.Context, cartID string) (*commerce.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CompleteCart"); err != nil {
		return nil, err
	}
	if f.CompleteErr != nil {
		return nil, f.CompleteErr
	}
	c, err := f.cart(cartID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	c.CompletedAt = &now
	return &commerce.Order{ID: "order_" + cartID, DisplayID: int64(f.seq)}, nil
}

// Settle marks a collection as paid, as a webhook would.
func (f *Commerce) Settle(pcID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pc, ok := f.collections[pcID]; ok {
		pc.Status = commerce.CollectionCompleted
	}
}

// SetSessionData replaces the payload of every session on a collection.
func (f *Commerce) SetSessionData(pcID string, data json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pc, ok := f.collections[pcID]; ok {
		for i := range pc.PaymentSessions {
			pc.PaymentSessions[i].Data = data
		}
	}
}

// DefaultSessionData mimics a stripe provider: a nested payment intent with
// pix or boleto display details, or an unconfirmed card intent.
func DefaultSessionData(_ string, data map[string]any) json.RawMessage {
	method := ""
	types, _ := data["payment_method_types"].([]string)
	if len(types) > 0 {
		method = types[0]
	}
	intent := map[string]any{"id": "pi_test", "client_secret": "pi_test_secret", "payment_method_types": types}
	switch method {
	case "pix":
		intent["status"] = "requires_action"
		intent["next_action"] = map[string]any{
			"type": "pix_display_qr_code",
			"pix_display_qr_code": map[string]any{
				"data":          "00020126580014br.gov.bcb.pix",
				"image_url_png": "https://qr.example/pix.png",
				"expires_at":    1767225600,
			},
		}
	case "boleto":
		intent["status"] = "requires_action"
		intent["next_action"] = map[string]any{
			"type": "boleto_display_details",
			"boleto_display_details": map[string]any{
				"number":             "23790.00000 00000.000000 00000.000000 1 00000000010000",
				"hosted_voucher_url": "https://boleto.example/v/1",
				"expires_at":         1767225600,
			},
		}
	default:
		intent["status"] = "requires_payment_method"
	}
	b, _ := json.Marshal(map[string]any{"payment_intent": intent})
	return b
}
