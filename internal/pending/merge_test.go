package pending

import (
	"testing"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)

func pp(pc, cart string, m model.PaymentMethod, d model.PaymentDetails) model.PendingPayment {
	return model.PendingPayment{PaymentCollectionID: pc, CartID: cart, Method: m, CreatedAt: t0, Details: d}
}

func TestMerge_Idempotent(t *testing.T) {
	x := []model.PendingPayment{
		pp("pay_col_1", "cart_1", model.MethodPix, model.PaymentDetails{PixCode: "000201", PixQR: "https://qr/1.png"}),
		pp("pay_col_2", "cart_2", model.MethodBoleto, model.PaymentDetails{BoletoLine: "23793.38128", BoletoURL: "https://b/2"}),
	}
	assert.Equal(t, x, Merge(x, x))
}

func TestMerge_UniqueByPaymentCollection(t *testing.T) {
	local := []model.PendingPayment{
		pp("pay_col_1", "cart_1", model.MethodPix, model.PaymentDetails{}),
		pp("pay_col_2", "cart_2", model.MethodPix, model.PaymentDetails{}),
		pp("pay_col_1", "cart_1", model.MethodPix, model.PaymentDetails{PixCode: "dup"}),
	}
	remote := []model.PendingPayment{
		pp("pay_col_2", "cart_2", model.MethodPix, model.PaymentDetails{}),
		pp("pay_col_3", "cart_3", model.MethodBoleto, model.PaymentDetails{}),
	}

	got := Merge(local, remote)
	require.Len(t, got, 3)
	seen := map[string]bool{}
	for _, p := range got {
		assert.False(t, seen[p.PaymentCollectionID], "duplicate %s", p.PaymentCollectionID)
		seen[p.PaymentCollectionID] = true
	}
	assert.Equal(t, []string{"pay_col_1", "pay_col_2", "pay_col_3"},
		[]string{got[0].PaymentCollectionID, got[1].PaymentCollectionID, got[2].PaymentCollectionID})
}

func TestMerge_RemoteWinsAndDetailsUnion(t *testing.T) {
	later := t0.Add(time.Hour)
	local := []model.PendingPayment{{
		PaymentCollectionID: "pay_col_1",
		CartID:              "cart_local",
		Method:              model.MethodBoleto,
		CreatedAt:           t0,
		Details:             model.PaymentDetails{BoletoLine: "local-line", BoletoURL: "https://local"},
	}}
	remote := []model.PendingPayment{{
		PaymentCollectionID: "pay_col_1",
		CartID:              "cart_remote",
		CreatedAt:           later,
		Details:             model.PaymentDetails{BoletoURL: "https://remote", BoletoExpiresAt: "2024-05-04T23:59:59Z"},
	}}

	got := Merge(local, remote)
	require.Len(t, got, 1)
	assert.Equal(t, "cart_remote", got[0].CartID)
	assert.Equal(t, model.MethodBoleto, got[0].Method, "missing remote field keeps local value")
	assert.Equal(t, later, got[0].CreatedAt)
	assert.Equal(t, model.PaymentDetails{
		BoletoLine:      "local-line",
		BoletoURL:       "https://remote",
		BoletoExpiresAt: "2024-05-04T23:59:59Z",
	}, got[0].Details)
}

func TestMerge_DropsEntriesWithoutID(t *testing.T) {
	got := Merge([]model.PendingPayment{{CartID: "cart_1"}}, nil)
	assert.Empty(t, got)
}

func TestRemove(t *testing.T) {
	list := []model.PendingPayment{
		pp("pay_col_1", "cart_1", model.MethodPix, model.PaymentDetails{}),
		pp("pay_col_2", "cart_2", model.MethodBoleto, model.PaymentDetails{}),
	}

	tests := []struct {
		name string
		c    Criteria
		want []string
	}{
		{"by payment collection", Criteria{PaymentCollectionID: "pay_col_1"}, []string{"pay_col_2"}},
		{"by cart", Criteria{CartID: "cart_2"}, []string{"pay_col_1"}},
		{"collection id wins over cart", Criteria{PaymentCollectionID: "pay_col_2", CartID: "cart_1"}, []string{"pay_col_1"}},
		{"unknown collection is a no-op", Criteria{PaymentCollectionID: "nope"}, []string{"pay_col_1", "pay_col_2"}},
		{"unknown cart is a no-op", Criteria{CartID: "nope"}, []string{"pay_col_1", "pay_col_2"}},
		{"empty criteria is a no-op", Criteria{}, []string{"pay_col_1", "pay_col_2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Remove(list, tt.c)
			ids := make([]string, 0, len(got))
			for _, p := range got {
				ids = append(ids, p.PaymentCollectionID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
	assert.Len(t, list, 2, "input must not be mutated")
}

func TestRemove_ExistingShortensByOne(t *testing.T) {
	list := []model.PendingPayment{
		pp("pay_col_1", "cart_1", model.MethodPix, model.PaymentDetails{}),
		pp("pay_col_2", "cart_2", model.MethodPix, model.PaymentDetails{}),
		pp("pay_col_3", "cart_3", model.MethodPix, model.PaymentDetails{}),
	}
	for _, p := range list {
		assert.Len(t, Remove(list, Criteria{PaymentCollectionID: p.PaymentCollectionID}), len(list)-1)
	}
}

func TestUpsertAndFind(t *testing.T) {
	list := Upsert(nil, pp("pay_col_9", "cart_9", model.MethodPix, model.PaymentDetails{PixCode: "abc"}))
	list = Upsert(list, model.PendingPayment{PaymentCollectionID: "pay_col_9", Details: model.PaymentDetails{PixQR: "qr"}})

	got, ok := Find(list, "pay_col_9")
	require.True(t, ok)
	assert.Equal(t, "abc", got.Details.PixCode)
	assert.Equal(t, "qr", got.Details.PixQR)

	_, ok = Find(list, "pay_col_0")
	assert.False(t, ok)
}
