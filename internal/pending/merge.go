// Package pending merges and prunes pending-payment lists kept on both the
// client-local store and the customer record.
package pending

import (
	"github.com/jmehdipour/recurring-orders/internal/model"
)

// Merge combines local and remote lists into one entry per
// payment_collection_id. On a shared id, remote's non-empty top-level fields
// win and details are merged key by key (remote wins on conflict). Order is
// first-seen, local first. Entries without a payment_collection_id are
// dropped.
func Merge(local, remote []model.PendingPayment) []model.PendingPayment {
	out := make([]model.PendingPayment, 0, len(local)+len(remote))
	index := make(map[string]int, len(local)+len(remote))

	add := func(p model.PendingPayment) {
		if p.PaymentCollectionID == "" {
			return
		}
		if i, ok := index[p.PaymentCollectionID]; ok {
			out[i] = overlay(out[i], p)
			return
		}
		index[p.PaymentCollectionID] = len(out)
		out = append(out, p)
	}

	for _, p := range local {
		add(p)
	}
	for _, p := range remote {
		add(p)
	}
	return out
}

// Upsert merges a single record into list.
func Upsert(list []model.PendingPayment, p model.PendingPayment) []model.PendingPayment {
	return Merge(list, []model.PendingPayment{p})
}

// Criteria selects entries to remove. PaymentCollectionID takes precedence
// over CartID; an empty Criteria matches nothing.
type Criteria struct {
	PaymentCollectionID string
	CartID              string
}

// Remove returns a copy of list without the entries matching c.
func Remove(list []model.PendingPayment, c Criteria) []model.PendingPayment {
	out := make([]model.PendingPayment, 0, len(list))
	for _, p := range list {
		if matches(p, c) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Find returns the entry for a payment collection.
func Find(list []model.PendingPayment, paymentCollectionID string) (model.PendingPayment, bool) {
	for _, p := range list {
		if p.PaymentCollectionID == paymentCollectionID {
			return p, true
		}
	}
	return model.PendingPayment{}, false
}

func matches(p model.PendingPayment, c Criteria) bool {
	switch {
	case c.PaymentCollectionID != "":
		return p.PaymentCollectionID == c.PaymentCollectionID
	case c.CartID != "":
		return p.CartID == c.CartID
	default:
		return false
	}
}

func overlay(base, top model.PendingPayment) model.PendingPayment {
	if top.CartID != "" {
		base.CartID = top.CartID
	}
	if top.Method != "" {
		base.Method = top.Method
	}
	if !top.CreatedAt.IsZero() {
		base.CreatedAt = top.CreatedAt
	}
	base.Details = mergeDetails(base.Details, top.Details)
	return base
}

func mergeDetails(base, top model.PaymentDetails) model.PaymentDetails {
	pick := func(b, t string) string {
		if t != "" {
			return t
		}
		return b
	}
	return model.PaymentDetails{
		BoletoLine:      pick(base.BoletoLine, top.BoletoLine),
		BoletoURL:       pick(base.BoletoURL, top.BoletoURL),
		BoletoExpiresAt: pick(base.BoletoExpiresAt, top.BoletoExpiresAt),
		PixCode:         pick(base.PixCode, top.PixCode),
		PixQR:           pick(base.PixQR, top.PixQR),
	}
}
