// Package checkout drives an interactive customer checkout against the
// commerce API. Card payments settle in-session; boleto and pix leave a
// pending payment behind that is settled later and picked up by the Poller.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/kvstore"
	"github.com/jmehdipour/recurring-orders/internal/metrics"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/notify"
	"github.com/jmehdipour/recurring-orders/internal/pending"
	"github.com/jmehdipour/recurring-orders/internal/purchase"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Locked
	Completed
	PendingAsync
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Completed:
		return "completed"
	case PendingAsync:
		return "pending_async"
	default:
		return "idle"
	}
}

const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
)

// Outcome is returned by CompleteBackendCheckout.
type Outcome struct {
	Status              string `json:"status"`
	OrderID             string `json:"orderId,omitempty"`
	PaymentCollectionID string `json:"paymentCollectionId,omitempty"`
}

// Deps are shared by every session machine.
type Deps struct {
	Client        commerce.Client
	Executor      *purchase.Executor
	Store         kvstore.Store
	Customers     repository.CustomersRepository
	Companies     repository.CompaniesRepository
	Notifier      notify.Notifier
	Log           *zap.Logger
	WriteAttempts int
	Now           func() time.Time
}

// Machine is the checkout state of one client session. A checkout holds the
// lock for its whole duration and always releases it.
type Machine struct {
	Deps
	customerID string
	scope      string // kv namespace: customer/session

	mu       sync.Mutex
	state    State
	mutating int // cart mutations in flight
	lastUsed time.Time
}

func NewMachine(d Deps, customerID, sessionID string) *Machine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	return &Machine{
		Deps:       d,
		customerID: customerID,
		scope:      customerID + "/" + sessionID,
		lastUsed:   d.Now(),
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) tryLock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Locked {
		return errs.ErrCheckoutInProgress
	}
	if m.mutating > 0 {
		return errs.ErrCartBusy
	}
	m.state = Locked
	m.lastUsed = m.Now()
	return nil
}

func (m *Machine) release(to State) {
	m.mu.Lock()
	m.state = to
	m.lastUsed = m.Now()
	m.mu.Unlock()
}

// beginMutation registers a cart mutation; the returned func ends it. A
// checkout cannot take the lock until every mutation has ended.
func (m *Machine) beginMutation() (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Locked {
		return nil, errs.ErrCheckoutInProgress
	}
	m.mutating++
	m.lastUsed = m.Now()
	return func() {
		m.mu.Lock()
		m.mutating--
		m.lastUsed = m.Now()
		m.mu.Unlock()
	}, nil
}

func (m *Machine) touch() {
	m.mu.Lock()
	m.lastUsed = m.Now()
	m.mu.Unlock()
}

// idleSince reports when the machine was last used; ok is false while a
// checkout or a mutation is running.
func (m *Machine) idleSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Locked || m.mutating > 0 {
		return time.Time{}, false
	}
	return m.lastUsed, true
}

// CartID returns the active cart id of the session, "" when none.
func (m *Machine) CartID(ctx context.Context) (string, error) {
	return kvstore.CartID(ctx, m.Store, m.scope)
}

// Cart returns the active cart, creating one on first use.
func (m *Machine) Cart(ctx context.Context) (*commerce.Cart, error) {
	id, err := m.CartID(ctx)
	if err != nil {
		return nil, err
	}
	if id != "" {
		cart, err := m.Client.GetCart(ctx, id)
		if err == nil && cart.CompletedAt == nil {
			return cart, nil
		}
		if err != nil && !errs.IsNotFound(err) {
			return nil, err
		}
	}
	cust, err := m.Customers.GetByID(ctx, m.customerID)
	if err != nil {
		return nil, err
	}
	cart, err := m.Executor.NewCart(ctx, *cust)
	if err != nil {
		return nil, err
	}
	if err := m.Store.Set(ctx, kvstore.CartKey(m.scope), cart.ID); err != nil {
		return nil, err
	}
	return cart, nil
}

func (m *Machine) AddItem(ctx context.Context, variantID string, qty int) (*commerce.Cart, error) {
	done, err := m.beginMutation()
	if err != nil {
		return nil, err
	}
	defer done()
	if variantID == "" || qty <= 0 {
		return nil, errs.Invalid("item", "variant_id and a positive quantity are required")
	}
	cart, err := m.Cart(ctx)
	if err != nil {
		return nil, err
	}
	return m.Client.AddLineItem(ctx, cart.ID, variantID, qty)
}

func (m *Machine) UpdateItem(ctx context.Context, lineID string, qty int) (*commerce.Cart, error) {
	done, err := m.beginMutation()
	if err != nil {
		return nil, err
	}
	defer done()
	if qty <= 0 {
		return m.RemoveItem(ctx, lineID)
	}
	cart, err := m.Cart(ctx)
	if err != nil {
		return nil, err
	}
	return m.Client.UpdateLineItem(ctx, cart.ID, lineID, qty)
}

func (m *Machine) RemoveItem(ctx context.Context, lineID string) (*commerce.Cart, error) {
	done, err := m.beginMutation()
	if err != nil {
		return nil, err
	}
	defer done()
	cart, err := m.Cart(ctx)
	if err != nil {
		return nil, err
	}
	return m.Client.DeleteLineItem(ctx, cart.ID, lineID)
}

// Clear removes every line item of the active cart.
func (m *Machine) Clear(ctx context.Context) (*commerce.Cart, error) {
	done, err := m.beginMutation()
	if err != nil {
		return nil, err
	}
	defer done()
	cart, err := m.Cart(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range cart.Items {
		if cart, err = m.Client.DeleteLineItem(ctx, cart.ID, it.ID); err != nil {
			return nil, err
		}
	}
	return cart, nil
}

// CompleteBackendCheckout checks out the active cart with method.
func (m *Machine) CompleteBackendCheckout(ctx context.Context, method model.PaymentMethod) (out Outcome, err error) {
	if !method.Valid() {
		return Outcome{}, errs.Invalid("payment_method", "unsupported payment method %q", method)
	}
	if err := m.tryLock(); err != nil {
		return Outcome{}, err
	}
	final := Idle
	defer func() {
		if r := recover(); r != nil {
			m.release(Idle)
			panic(r)
		}
		m.release(final)
		result := "error"
		if err == nil {
			result = out.Status
		}
		metrics.CheckoutTotal.WithLabelValues(string(method), result).Inc()
	}()

	log := m.Log.With(zap.String("customer_id", m.customerID), zap.String("method", string(method)))

	cartID, err := m.CartID(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if cartID == "" {
		return Outcome{}, errs.Invalid("cart", "no active cart")
	}
	cart, err := m.Client.GetCart(ctx, cartID)
	if err != nil {
		return Outcome{}, err
	}
	if len(cart.Items) == 0 {
		return Outcome{}, errs.Invalid("cart", "cart %s is empty", cartID)
	}
	cust, co, err := m.loadParties(ctx)
	if err != nil {
		return Outcome{}, err
	}
	log = log.With(zap.String("cart_id", cartID))

	if method.Async() {
		out, err = m.checkoutAsync(ctx, log, cart, method, *cust, *co)
	} else {
		out, err = m.checkoutCredit(ctx, log, cart, *cust, *co)
	}
	if err != nil {
		log.Warn("checkout failed", zap.Error(err))
		return Outcome{}, err
	}
	if out.Status == StatusCompleted {
		final = Completed
	} else {
		final = PendingAsync
	}
	return out, nil
}

func (m *Machine) loadParties(ctx context.Context) (*model.Customer, *model.Company, error) {
	cust, err := m.Customers.GetByID(ctx, m.customerID)
	if err != nil {
		return nil, nil, err
	}
	co, err := m.Companies.GetByID(ctx, cust.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	return cust, co, nil
}

// existingPayment returns the session already attached to the cart, if any.
func (m *Machine) existingPayment(ctx context.Context, cart *commerce.Cart) (*purchase.Result, bool) {
	if cart.PaymentCollection == nil || cart.PaymentCollection.ID == "" {
		return nil, false
	}
	env, sess, err := m.Executor.ReadSession(ctx, cart.PaymentCollection.ID)
	if err != nil {
		return nil, false
	}
	return &purchase.Result{
		CartID:              cart.ID,
		PaymentCollectionID: cart.PaymentCollection.ID,
		PaymentSessionID:    sess.ID,
		Envelope:            env,
	}, true
}

// reusablePayment returns the attached session when it can settle a checkout
// with method: it already succeeded, or it was created for that method.
func (m *Machine) reusablePayment(ctx context.Context, log *zap.Logger, cart *commerce.Cart, method model.PaymentMethod) (*purchase.Result, bool) {
	res, ok := m.existingPayment(ctx, cart)
	if !ok {
		return nil, false
	}
	if res.Envelope.Succeeded() || res.Envelope.ForMethod(method) {
		return res, true
	}
	log.Info("payment session was created for another method, starting a new one",
		zap.String("payment_collection_id", res.PaymentCollectionID),
		zap.String("payment_session_id", res.PaymentSessionID))
	return nil, false
}

func (m *Machine) checkoutCredit(ctx context.Context, log *zap.Logger, cart *commerce.Cart, cust model.Customer, co model.Company) (Outcome, error) {
	if res, ok := m.existingPayment(ctx, cart); ok && res.Envelope.Succeeded() {
		log.Info("payment already settled, completing order", zap.String("payment_collection_id", res.PaymentCollectionID))
		return m.completeOrder(ctx, log, cust, cart.ID, res.PaymentCollectionID)
	}

	if err := m.Executor.PrepareShipping(ctx, cart, cust, co); err != nil {
		return Outcome{}, err
	}
	res, ok := m.reusablePayment(ctx, log, cart, model.MethodCredit)
	if !ok {
		var err error
		if res, err = m.Executor.StartPayment(ctx, cart.ID, model.MethodCredit, cust, co); err != nil {
			return Outcome{}, err
		}
	}
	if _, err := m.Client.ConfirmPaymentSession(ctx, res.PaymentCollectionID, res.PaymentSessionID); err != nil && !errs.IsAlreadySucceeded(err) {
		return Outcome{}, err
	}
	return m.completeOrder(ctx, log, cust, cart.ID, res.PaymentCollectionID)
}

func (m *Machine) checkoutAsync(ctx context.Context, log *zap.Logger, cart *commerce.Cart, method model.PaymentMethod, cust model.Customer, co model.Company) (Outcome, error) {
	if err := m.Executor.PrepareShipping(ctx, cart, cust, co); err != nil {
		return Outcome{}, err
	}

	res, ok := m.reusablePayment(ctx, log, cart, method)
	if ok && res.Envelope.Succeeded() {
		return m.completeOrder(ctx, log, cust, cart.ID, res.PaymentCollectionID)
	}
	if !ok {
		var err error
		if res, err = m.Executor.StartPayment(ctx, cart.ID, method, cust, co); err != nil {
			return Outcome{}, err
		}
	}

	_, err := m.Client.ConfirmPaymentSession(ctx, res.PaymentCollectionID, res.PaymentSessionID)
	switch {
	case errs.IsAlreadySucceeded(err):
		log.Info("provider reports payment already succeeded")
		return m.completeOrder(ctx, log, cust, cart.ID, res.PaymentCollectionID)
	case err != nil && !confirmedOnCreate(err):
		return Outcome{}, err
	case err != nil:
		log.Debug("session was confirmed on creation", zap.Error(err))
	}

	env, _, err := m.Executor.ReadSession(ctx, res.PaymentCollectionID)
	if err != nil {
		return Outcome{}, err
	}
	if env.Succeeded() {
		return m.completeOrder(ctx, log, cust, cart.ID, res.PaymentCollectionID)
	}

	p := model.PendingPayment{
		PaymentCollectionID: res.PaymentCollectionID,
		CartID:              cart.ID,
		Method:              method,
		CreatedAt:           m.Now().UTC(),
		Details:             env.Instructions(method),
	}
	if p.Details.Empty() {
		log.Warn("provider returned no settlement instructions", zap.String("shape", env.Shape.String()))
	}
	if err := m.savePending(ctx, p); err != nil {
		return Outcome{}, err
	}
	notify.BestEffort(ctx, m.Notifier, log, cust.ID, notify.KindPaymentInstructions, notify.PaymentInstructions(cust, p))

	// the pending payment stays tied to the old cart id
	next, err := m.Executor.NewCart(ctx, cust)
	if err != nil {
		return Outcome{}, err
	}
	if err := m.Store.Set(ctx, kvstore.CartKey(m.scope), next.ID); err != nil {
		return Outcome{}, err
	}

	log.Info("checkout pending settlement",
		zap.String("payment_collection_id", p.PaymentCollectionID),
		zap.String("next_cart_id", next.ID))
	return Outcome{Status: StatusPending, PaymentCollectionID: p.PaymentCollectionID}, nil
}

// confirmedOnCreate reports a 4xx from confirming a session that the
// provider already confirmed at creation time (boleto/pix).
func confirmedOnCreate(err error) bool {
	var ee *errs.ExternalServiceError
	return errors.As(err, &ee) && (ee.Status == 400 || ee.Status == 409)
}

func (m *Machine) completeOrder(ctx context.Context, log *zap.Logger, cust model.Customer, cartID, pcID string) (Outcome, error) {
	order, err := m.Client.CompleteCart(ctx, cartID)
	if err != nil {
		return Outcome{}, err
	}
	if err := m.clearPending(ctx, pending.Criteria{CartID: cartID}); err != nil {
		log.Warn("clear pending payment failed", zap.Error(err))
	}
	if active, _ := m.CartID(ctx); active == cartID {
		if err := m.Store.Remove(ctx, kvstore.CartKey(m.scope)); err != nil {
			log.Warn("drop completed cart id failed", zap.Error(err))
		}
	}
	notify.BestEffort(ctx, m.Notifier, log, cust.ID, notify.KindOrderConfirmed, notify.OrderConfirmed(cust, order.ID))
	log.Info("order completed", zap.String("order_id", order.ID))
	return Outcome{Status: StatusCompleted, OrderID: order.ID, PaymentCollectionID: pcID}, nil
}

// FinalizeSettled completes the order of a settled async payment and drops
// its pending record. Called by the Poller.
func (m *Machine) FinalizeSettled(ctx context.Context, cartID, pcID string) error {
	cust, err := m.Customers.GetByID(ctx, m.customerID)
	if err != nil {
		return err
	}
	log := m.Log.With(zap.String("customer_id", m.customerID), zap.String("cart_id", cartID))
	_, err = m.completeOrder(ctx, log, *cust, cartID, pcID)
	return err
}

// PendingPayments merges the session's local list with the customer record.
func (m *Machine) PendingPayments(ctx context.Context) ([]model.PendingPayment, error) {
	local, err := kvstore.PendingPayments(ctx, m.Store, m.scope)
	if err != nil {
		return nil, err
	}
	cust, err := m.Customers.GetByID(ctx, m.customerID)
	if err != nil {
		return nil, err
	}
	return pending.Merge(local, cust.Metadata.PendingPayments), nil
}

// OwnedPending returns the customer's pending payment on cartID, restricted
// to pcID when set. Anything else is NotFound.
func (m *Machine) OwnedPending(ctx context.Context, cartID, pcID string) (model.PendingPayment, error) {
	list, err := m.PendingPayments(ctx)
	if err != nil {
		return model.PendingPayment{}, err
	}
	for _, p := range list {
		if p.CartID == cartID && (pcID == "" || p.PaymentCollectionID == pcID) {
			return p, nil
		}
	}
	return model.PendingPayment{}, errs.NotFound("pending payment for cart", cartID)
}

// DiscardPending explicitly clears one pending payment.
func (m *Machine) DiscardPending(ctx context.Context, pcID string) error {
	if pcID == "" {
		return errs.Invalid("payment_collection_id", "required")
	}
	return m.clearPending(ctx, pending.Criteria{PaymentCollectionID: pcID})
}

func (m *Machine) savePending(ctx context.Context, p model.PendingPayment) error {
	local, err := kvstore.PendingPayments(ctx, m.Store, m.scope)
	if err != nil {
		return err
	}
	if err := kvstore.SetPendingPayments(ctx, m.Store, m.scope, pending.Merge(local, []model.PendingPayment{p})); err != nil {
		return fmt.Errorf("store pending payment locally: %w", err)
	}
	_, err = repository.MutateCustomer(ctx, m.Customers, m.customerID, m.WriteAttempts, func(c *model.Customer) error {
		c.Metadata.PendingPayments = pending.Merge(c.Metadata.PendingPayments, []model.PendingPayment{p})
		return nil
	})
	return err
}

func (m *Machine) clearPending(ctx context.Context, c pending.Criteria) error {
	local, err := kvstore.PendingPayments(ctx, m.Store, m.scope)
	if err != nil {
		return err
	}
	if err := kvstore.SetPendingPayments(ctx, m.Store, m.scope, pending.Remove(local, c)); err != nil {
		return err
	}
	_, err = repository.MutateCustomer(ctx, m.Customers, m.customerID, m.WriteAttempts, func(cu *model.Customer) error {
		cu.Metadata.PendingPayments = pending.Remove(cu.Metadata.PendingPayments, c)
		return nil
	})
	return err
}
