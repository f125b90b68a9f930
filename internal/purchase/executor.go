// Package purchase places one order against the commerce API on behalf of a
// customer: cart, line items, shipping, payment collection and session.
package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/payment"
	"go.uber.org/zap"
)

type Options struct {
	ProviderID     string // fixed per deployment, e.g. pp_stripe_stripe
	RegionID       string
	SalesChannelID string
	Logger         *zap.Logger
	Now            func() time.Time
}

type Executor struct {
	client         commerce.Client
	providerID     string
	regionID       string
	salesChannelID string
	log            *zap.Logger
	now            func() time.Time
}

func NewExecutor(client commerce.Client, opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		client:         client,
		providerID:     opts.ProviderID,
		regionID:       opts.RegionID,
		salesChannelID: opts.SalesChannelID,
		log:            opts.Logger,
		now:            opts.Now,
	}
}

func (e *Executor) ProviderID() string { return e.providerID }

// Result of one purchase. Pending is set for async methods only.
type Result struct {
	CartID              string
	PaymentCollectionID string
	PaymentSessionID    string
	Method              model.PaymentMethod
	Envelope            payment.Envelope
	Pending             *model.PendingPayment
}

// Execute runs the cart-to-payment flow for rec. Every failure is one of the
// errs types so the caller can pause the recurrence or surface a message.
func (e *Executor) Execute(ctx context.Context, rec model.Recurrence, cust model.Customer, co model.Company) (*Result, error) {
	if err := validate(rec); err != nil {
		return nil, err
	}
	log := e.log.With(zap.String("customer_id", cust.ID), zap.String("recurrence_id", rec.ID))

	cart, err := e.NewCart(ctx, cust)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("cart_id", cart.ID))

	for _, it := range rec.Items {
		if _, err := e.client.AddLineItem(ctx, cart.ID, it.VariantID, it.Quantity); err != nil {
			return nil, err
		}
	}

	if err := e.prepareShipping(ctx, cart.ID, cust, co); err != nil {
		return nil, err
	}

	res, err := e.startPayment(ctx, cart.ID, rec.PaymentMethod, cust, co)
	if err != nil {
		return nil, err
	}
	log.Info("purchase placed",
		zap.String("payment_collection_id", res.PaymentCollectionID),
		zap.String("method", string(rec.PaymentMethod)),
		zap.String("shape", res.Envelope.Shape.String()))
	return res, nil
}

// NewCart opens an empty cart with the deployment defaults.
func (e *Executor) NewCart(ctx context.Context, cust model.Customer) (*commerce.Cart, error) {
	cart, err := e.client.CreateCart(ctx, commerce.CreateCartInput{
		RegionID:       e.regionID,
		SalesChannelID: e.salesChannelID,
		CustomerID:     cust.ID,
		Email:          cust.Email,
	})
	if err != nil {
		return nil, err
	}
	if cart == nil || cart.ID == "" {
		return nil, &errs.ExternalServiceError{Op: "cart creation", Message: "cart creation failed"}
	}
	return cart, nil
}

// PrepareShipping attaches the company address and the first shipping option.
func (e *Executor) PrepareShipping(ctx context.Context, cart *commerce.Cart, cust model.Customer, co model.Company) error {
	if cart.HasShippingAddress() && cart.HasShippingMethod() {
		return nil
	}
	if cart.HasShippingAddress() {
		return e.attachFirstShippingOption(ctx, cart.ID)
	}
	return e.prepareShipping(ctx, cart.ID, cust, co)
}

func (e *Executor) prepareShipping(ctx context.Context, cartID string, cust model.Customer, co model.Company) error {
	addr := AddressFromCompany(co, cust)
	if _, err := e.client.UpdateCart(ctx, cartID, commerce.UpdateCartInput{
		Email:           cust.Email,
		ShippingAddress: &addr,
		BillingAddress:  &addr,
	}); err != nil {
		return err
	}
	return e.attachFirstShippingOption(ctx, cartID)
}

func (e *Executor) attachFirstShippingOption(ctx context.Context, cartID string) error {
	opts, err := e.client.ListShippingOptions(ctx, cartID)
	if err != nil {
		return err
	}
	if len(opts) == 0 {
		return &errs.NoShippingOptionError{CartID: cartID}
	}
	_, err = e.client.AddShippingMethod(ctx, cartID, opts[0].ID)
	return err
}

// StartPayment creates the collection and the provider session for cartID,
// then reads the session back and extracts its instructions.
func (e *Executor) StartPayment(ctx context.Context, cartID string, method model.PaymentMethod, cust model.Customer, co model.Company) (*Result, error) {
	if !method.Valid() {
		return nil, errs.Invalid("payment_method", "unsupported payment method %q", method)
	}
	return e.startPayment(ctx, cartID, method, cust, co)
}

func (e *Executor) startPayment(ctx context.Context, cartID string, method model.PaymentMethod, cust model.Customer, co model.Company) (*Result, error) {
	pc, err := e.client.CreatePaymentCollection(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if _, err := e.client.CreatePaymentSession(ctx, pc.ID, e.providerID, SessionData(method, cust, co)); err != nil {
		return nil, err
	}

	env, sess, err := e.ReadSession(ctx, pc.ID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		CartID:              cartID,
		PaymentCollectionID: pc.ID,
		PaymentSessionID:    sess.ID,
		Method:              method,
		Envelope:            env,
	}
	if method.Async() {
		res.Pending = &model.PendingPayment{
			PaymentCollectionID: pc.ID,
			CartID:              cartID,
			Method:              method,
			CreatedAt:           e.now().UTC(),
			Details:             env.Instructions(method),
		}
	}
	return res, nil
}

// ReadSession re-fetches the collection and unwraps the deployment
// provider's session.
func (e *Executor) ReadSession(ctx context.Context, collectionID string) (payment.Envelope, commerce.PaymentSession, error) {
	pc, err := e.client.GetPaymentCollection(ctx, collectionID)
	if err != nil {
		return payment.Envelope{}, commerce.PaymentSession{}, err
	}
	sess, ok := pc.Session(e.providerID)
	if !ok {
		return payment.Envelope{}, commerce.PaymentSession{}, &errs.ExternalServiceError{
			Op:      "payment session retrieval",
			Message: fmt.Sprintf("no %s session on payment collection %s", e.providerID, collectionID),
		}
	}
	env, err := payment.Unwrap(sess.ProviderID, sess.Data)
	if err != nil {
		return payment.Envelope{}, sess, errs.External("payment session retrieval", err)
	}
	return env, sess, nil
}

// Complete finalizes a credit purchase: confirm unless the provider already
// settled it, then turn the cart into an order.
func (e *Executor) Complete(ctx context.Context, res *Result) (*commerce.Order, error) {
	if !res.Envelope.Succeeded() && res.PaymentSessionID != "" {
		if _, err := e.client.ConfirmPaymentSession(ctx, res.PaymentCollectionID, res.PaymentSessionID); err != nil && !errs.IsAlreadySucceeded(err) {
			return nil, err
		}
	}
	return e.client.CompleteCart(ctx, res.CartID)
}

func validate(rec model.Recurrence) error {
	if len(rec.Items) == 0 {
		return errs.Invalid("items", "recurrence %s has no items", rec.ID)
	}
	for i, it := range rec.Items {
		if it.VariantID == "" || it.Quantity <= 0 {
			return errs.Invalid(fmt.Sprintf("items[%d]", i), "variant_id and a positive quantity are required")
		}
	}
	if !rec.PaymentMethod.Valid() {
		return errs.Invalid("payment_method", "unsupported payment method %q", rec.PaymentMethod)
	}
	return nil
}
