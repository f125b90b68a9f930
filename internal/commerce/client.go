// Package commerce talks to the external commerce API (carts, shipping,
// payment collections and sessions, order completion).
package commerce

import "context"

// Client is the subset of the commerce API the engine drives.
type Client interface {
	CreateCart(ctx context.Context, in CreateCartInput) (*Cart, error)
	GetCart(ctx context.Context, cartID string) (*Cart, error)
	UpdateCart(ctx context.Context, cartID string, in UpdateCartInput) (*Cart, error)

	AddLineItem(ctx context.Context, cartID, variantID string, quantity int) (*Cart, error)
	UpdateLineItem(ctx context.Context, cartID, lineID string, quantity int) (*Cart, error)
	DeleteLineItem(ctx context.Context, cartID, lineID string) (*Cart, error)

	ListShippingOptions(ctx context.Context, cartID string) ([]ShippingOption, error)
	AddShippingMethod(ctx context.Context, cartID, optionID string) (*Cart, error)

	CreatePaymentCollection(ctx context.Context, cartID string) (*PaymentCollection, error)
	GetPaymentCollection(ctx context.Context, collectionID string) (*PaymentCollection, error)
	CreatePaymentSession(ctx context.Context, collectionID, providerID string, data map[string]any) (*PaymentCollection, error)
	// ConfirmPaymentSession fails with *errs.AlreadySucceededError when the
	// provider reports the payment as settled already.
	ConfirmPaymentSession(ctx context.Context, collectionID, sessionID string) (*PaymentSession, error)

	CompleteCart(ctx context.Context, cartID string) (*Order, error)
}
