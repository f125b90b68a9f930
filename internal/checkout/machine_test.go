package checkout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/kvstore"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/notify"
	"github.com/jmehdipour/recurring-orders/internal/purchase"
	"github.com/jmehdipour/recurring-orders/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const provider = "pp_stripe_stripe"

type fixture struct {
	m         *Machine
	commerce  *testutil.Commerce
	store     *kvstore.Memory
	customers *testutil.Customers
	notifier  *testutil.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := testutil.NewCommerce(provider)
	store := kvstore.NewMemory()
	cs := testutil.NewCustomers(model.Customer{ID: "cus_1", Email: "ana@condo.br", FirstName: "Ana", CompanyID: "co_1"})
	n := &testutil.Notifier{}
	d := Deps{
		Client:    fc,
		Executor:  purchase.NewExecutor(fc, purchase.Options{ProviderID: provider}),
		Store:     store,
		Customers: cs,
		Companies: testutil.NewCompanies(model.Company{ID: "co_1", Name: "Condo", Address1: "Rua A", City: "SP", TaxID: "12345678000190"}),
		Notifier:  n,
	}
	return &fixture{m: NewMachine(d, "cus_1", "sess_1"), commerce: fc, store: store, customers: cs, notifier: n}
}

func (f *fixture) cartWithItem(t *testing.T) string {
	t.Helper()
	cart, err := f.m.AddItem(context.Background(), "var_1", 2)
	require.NoError(t, err)
	return cart.ID
}

func TestCheckout_CreditAlreadySucceededShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cartID := f.cartWithItem(t)

	// a previous submission already paid this cart
	pc, err := f.commerce.CreatePaymentCollection(ctx, cartID)
	require.NoError(t, err)
	_, err = f.commerce.CreatePaymentSession(ctx, pc.ID, provider, nil)
	require.NoError(t, err)
	f.commerce.SetSessionData(pc.ID, json.RawMessage(`{"client_secret":"s","payment_intent":{"id":"pi_1","status":"succeeded"}}`))

	out, err := f.m.CompleteBackendCheckout(ctx, model.MethodCredit)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "order_"+cartID, out.OrderID)
	assert.Equal(t, Completed, f.m.State())

	assert.Zero(t, f.commerce.Count("ConfirmPaymentSession"))
	assert.Empty(t, f.customers.Get("cus_1").Metadata.PendingPayments)
	local, err := kvstore.PendingPayments(ctx, f.store, "cus_1/sess_1")
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestCheckout_CreditConfirmsAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.cartWithItem(t)

	out, err := f.m.CompleteBackendCheckout(context.Background(), model.MethodCredit)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 1, f.commerce.Count("ConfirmPaymentSession"))
	assert.Equal(t, 1, f.commerce.Count("CompleteCart"))

	id, err := f.m.CartID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)

	require.Len(t, f.notifier.Sent(), 1)
	assert.Equal(t, notify.KindOrderConfirmed, f.notifier.Sent()[0].Kind)
}

func TestCheckout_PixFreshSessionGoesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldCart := f.cartWithItem(t)

	out, err := f.m.CompleteBackendCheckout(ctx, model.MethodPix)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.Status)
	assert.NotEmpty(t, out.PaymentCollectionID)
	assert.Equal(t, PendingAsync, f.m.State())

	local, err := kvstore.PendingPayments(ctx, f.store, "cus_1/sess_1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, out.PaymentCollectionID, local[0].PaymentCollectionID)
	assert.Equal(t, oldCart, local[0].CartID)
	assert.NotEmpty(t, local[0].Details.PixCode)
	assert.NotEmpty(t, local[0].Details.PixQR)

	remote := f.customers.Get("cus_1").Metadata.PendingPayments
	require.Len(t, remote, 1)
	assert.Equal(t, local[0].PaymentCollectionID, remote[0].PaymentCollectionID)

	newCart, err := f.m.CartID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, newCart)
	assert.NotEqual(t, oldCart, newCart)

	assert.Zero(t, f.commerce.Count("CompleteCart"))
	require.Len(t, f.notifier.Sent(), 1)
	assert.Equal(t, notify.KindPaymentInstructions, f.notifier.Sent()[0].Kind)
}

func TestCheckout_AsyncAlreadySucceededCompletes(t *testing.T) {
	f := newFixture(t)
	f.commerce.ConfirmErr = &errs.AlreadySucceededError{PaymentSessionID: "ps"}
	f.cartWithItem(t)

	out, err := f.m.CompleteBackendCheckout(context.Background(), model.MethodBoleto)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.NotEmpty(t, out.OrderID)
	assert.Empty(t, f.customers.Get("cus_1").Metadata.PendingPayments)
}

func TestCheckout_FailureReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.commerce.NoShippingForVariant["var_1"] = true
	f.cartWithItem(t)

	_, err := f.m.CompleteBackendCheckout(context.Background(), model.MethodPix)
	require.Error(t, err)
	assert.True(t, errs.IsExternal(err))
	assert.Equal(t, Idle, f.m.State())

	_, err = f.m.AddItem(context.Background(), "var_2", 1)
	assert.NoError(t, err)
}

func TestCheckout_PixAfterDeclinedCardStartsPixSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldCart := f.cartWithItem(t)

	f.commerce.ConfirmErr = &errs.ExternalServiceError{Op: "payment confirmation", Status: 402, Message: "card declined"}
	_, err := f.m.CompleteBackendCheckout(ctx, model.MethodCredit)
	require.Error(t, err)
	require.Equal(t, Idle, f.m.State())

	f.commerce.ConfirmErr = nil
	out, err := f.m.CompleteBackendCheckout(ctx, model.MethodPix)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, 2, f.commerce.Count("CreatePaymentSession"))

	local, err := kvstore.PendingPayments(ctx, f.store, "cus_1/sess_1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, oldCart, local[0].CartID)
	assert.NotEmpty(t, local[0].Details.PixCode)
	assert.NotEmpty(t, local[0].Details.PixQR)
}

func TestCheckout_ReusesSessionOfSameMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cartWithItem(t)

	f.commerce.ConfirmErr = &errs.ExternalServiceError{Op: "payment confirmation", Status: 402, Message: "card declined"}
	_, err := f.m.CompleteBackendCheckout(ctx, model.MethodCredit)
	require.Error(t, err)

	f.commerce.ConfirmErr = nil
	out, err := f.m.CompleteBackendCheckout(ctx, model.MethodCredit)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 1, f.commerce.Count("CreatePaymentSession"))
}

func TestCheckout_WaitsForMutationInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cartWithItem(t)

	done, err := f.m.beginMutation()
	require.NoError(t, err)
	_, err = f.m.CompleteBackendCheckout(ctx, model.MethodCredit)
	assert.ErrorIs(t, err, errs.ErrCartBusy)
	assert.Equal(t, Idle, f.m.State())

	done()
	out, err := f.m.CompleteBackendCheckout(ctx, model.MethodCredit)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
}

func TestMachine_OwnedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldCart := f.cartWithItem(t)

	out, err := f.m.CompleteBackendCheckout(ctx, model.MethodBoleto)
	require.NoError(t, err)

	p, err := f.m.OwnedPending(ctx, oldCart, out.PaymentCollectionID)
	require.NoError(t, err)
	assert.Equal(t, out.PaymentCollectionID, p.PaymentCollectionID)

	_, err = f.m.OwnedPending(ctx, oldCart, "")
	assert.NoError(t, err)
	_, err = f.m.OwnedPending(ctx, oldCart, "pc_other")
	assert.True(t, errs.IsNotFound(err))
	_, err = f.m.OwnedPending(ctx, "cart_other", out.PaymentCollectionID)
	assert.True(t, errs.IsNotFound(err))
}

func TestCheckout_NoCartIsValidationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.CompleteBackendCheckout(context.Background(), model.MethodCredit)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, Idle, f.m.State())
}

func TestCheckout_RejectsMutationsWhileLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cartWithItem(t)

	require.NoError(t, f.m.tryLock())
	_, err := f.m.AddItem(ctx, "var_2", 1)
	assert.ErrorIs(t, err, errs.ErrCheckoutInProgress)
	_, err = f.m.UpdateItem(ctx, "item_1", 3)
	assert.ErrorIs(t, err, errs.ErrCheckoutInProgress)
	_, err = f.m.RemoveItem(ctx, "item_1")
	assert.ErrorIs(t, err, errs.ErrCheckoutInProgress)
	_, err = f.m.Clear(ctx)
	assert.ErrorIs(t, err, errs.ErrCheckoutInProgress)
	_, err = f.m.CompleteBackendCheckout(ctx, model.MethodCredit)
	assert.ErrorIs(t, err, errs.ErrCheckoutInProgress)

	f.m.release(Idle)
	_, err = f.m.AddItem(ctx, "var_2", 1)
	assert.NoError(t, err)
}

func TestMachine_PendingPaymentsMergesLocalAndRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, kvstore.SetPendingPayments(ctx, f.store, "cus_1/sess_1", []model.PendingPayment{
		{PaymentCollectionID: "pc_a", Method: model.MethodPix, Details: model.PaymentDetails{PixCode: "local"}},
	}))
	c := f.customers.Get("cus_1")
	c.Metadata.PendingPayments = []model.PendingPayment{
		{PaymentCollectionID: "pc_a", Method: model.MethodPix, Details: model.PaymentDetails{PixQR: "remote-qr"}},
		{PaymentCollectionID: "pc_b", Method: model.MethodBoleto},
	}
	f.customers.Put(c)

	list, err := f.m.PendingPayments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.PaymentDetails{PixCode: "local", PixQR: "remote-qr"}, list[0].Details)

	require.NoError(t, f.m.DiscardPending(ctx, "pc_a"))
	list, err = f.m.PendingPayments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pc_b", list[0].PaymentCollectionID)
}

func TestMachine_FinalizeSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldCart := f.cartWithItem(t)

	out, err := f.m.CompleteBackendCheckout(ctx, model.MethodBoleto)
	require.NoError(t, err)
	require.Equal(t, StatusPending, out.Status)

	require.NoError(t, f.m.FinalizeSettled(ctx, oldCart, out.PaymentCollectionID))
	assert.Equal(t, 1, f.commerce.Count("CompleteCart"))
	assert.Empty(t, f.customers.Get("cus_1").Metadata.PendingPayments)

	// the replacement cart stays active
	active, err := f.m.CartID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, oldCart, active)
	assert.NotEmpty(t, active)
}

func TestRegistry_SharesMachinePerSession(t *testing.T) {
	r := NewRegistry(Deps{})
	a := r.Get("cus_1", "s1")
	assert.Same(t, a, r.Get("cus_1", "s1"))
	assert.NotSame(t, a, r.Get("cus_1", "s2"))
	assert.NotSame(t, a, r.Get("cus_2", "s1"))

}

func TestRegistry_EvictsIdleMachines(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(Deps{Now: func() time.Time { return now }})

	idle := r.Get("cus_1", "s1")
	busy := r.Get("cus_1", "s2")
	require.NoError(t, busy.tryLock())

	now = now.Add(31 * time.Minute)
	fresh := r.Get("cus_1", "s3")

	assert.Equal(t, 1, r.Evict(30*time.Minute))
	assert.Equal(t, 2, r.Len())
	assert.NotSame(t, idle, r.Get("cus_1", "s1"))
	assert.Same(t, busy, r.Get("cus_1", "s2"))
	assert.Same(t, fresh, r.Get("cus_1", "s3"))
}
