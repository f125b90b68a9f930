// Package notify queues customer emails. Delivery is asynchronous: the
// outbox row is relayed to Kafka and sent by the mailer worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/recurring-orders/internal/metrics"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"github.com/jmehdipour/recurring-orders/internal/util"
	"go.uber.org/zap"
)

const (
	KindPaymentInstructions = "payment_instructions"
	KindOrderConfirmed      = "order_confirmed"
	KindRecurrencePaused    = "recurrence_paused"
)

type Notifier interface {
	Send(ctx context.Context, customerID, kind string, email model.Email) error
}

// OutboxNotifier writes envelopes to the outbox table.
type OutboxNotifier struct {
	Outbox repository.OutboxRepository
	Topic  string
}

func NewOutboxNotifier(outbox repository.OutboxRepository, topic string) *OutboxNotifier {
	return &OutboxNotifier{Outbox: outbox, Topic: topic}
}

func (n *OutboxNotifier) Send(ctx context.Context, customerID, kind string, email model.Email) error {
	if email.To == "" {
		return fmt.Errorf("notify %s: customer %s has no email", kind, customerID)
	}
	payload, err := json.Marshal(model.Envelope{
		ID:         util.NewID(),
		CustomerID: customerID,
		Kind:       kind,
		Email:      email,
	})
	if err != nil {
		return err
	}
	return n.Outbox.Insert(ctx, nil, model.OutboxEvent{
		Aggregate:   "customer",
		AggregateID: customerID,
		Topic:       n.Topic,
		Payload:     payload,
	})
}

// Nop drops every message. Used when notifications are disabled.
type Nop struct{}

func (Nop) Send(context.Context, string, string, model.Email) error { return nil }

// BestEffort sends and only logs failures; the caller's flow never sees them.
func BestEffort(ctx context.Context, n Notifier, log *zap.Logger, customerID, kind string, email model.Email) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, customerID, kind, email); err != nil {
		metrics.NotificationsTotal.WithLabelValues("enqueue_failed").Inc()
		if log != nil {
			log.Warn("notification failed",
				zap.String("customer_id", customerID),
				zap.String("kind", kind),
				zap.Error(err))
		}
		return
	}
	metrics.NotificationsTotal.WithLabelValues("enqueued").Inc()
}
