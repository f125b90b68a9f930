package kvstore

import (
	"context"
	"testing"

	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Remove(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCartID_MissingIsEmpty(t *testing.T) {
	id, err := CartID(context.Background(), NewMemory(), "sess")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestPendingPayments_RoundTripAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	list := []model.PendingPayment{{
		PaymentCollectionID: "pc_1",
		CartID:              "cart_1",
		Method:              model.MethodPix,
		Details:             model.PaymentDetails{PixCode: "000201"},
	}}

	require.NoError(t, SetPendingPayments(ctx, s, "sess", list))
	got, err := PendingPayments(ctx, s, "sess")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "000201", got[0].Details.PixCode)

	require.NoError(t, SetPendingPayments(ctx, s, "sess", nil))
	_, err = s.Get(ctx, PendingKey("sess"))
	assert.ErrorIs(t, err, ErrNotFound)
}
