package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/recurring-orders/internal/model"
)

// Key layout, scoped per session (browser/device).
func CartKey(sessionID string) string    { return "cart_id:" + sessionID }
func PendingKey(sessionID string) string { return "pending_payments:" + sessionID }

// CartID returns the active cart id, or "" when none is stored.
func CartID(ctx context.Context, s Store, sessionID string) (string, error) {
	v, err := s.Get(ctx, CartKey(sessionID))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func PendingPayments(ctx context.Context, s Store, sessionID string) ([]model.PendingPayment, error) {
	v, err := s.Get(ctx, PendingKey(sessionID))
	if errors.Is(err, ErrNotFound) || v == "" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []model.PendingPayment
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("decode pending payments: %w", err)
	}
	return out, nil
}

func SetPendingPayments(ctx context.Context, s Store, sessionID string, list []model.PendingPayment) error {
	if len(list) == 0 {
		return s.Remove(ctx, PendingKey(sessionID))
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.Set(ctx, PendingKey(sessionID), string(b))
}
