package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/kafka"
	"github.com/jmehdipour/recurring-orders/internal/metrics"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"go.uber.org/zap"
)

// EmailSender is satisfied by *mailer.Dispatcher.
type EmailSender interface {
	Send(ctx context.Context, email model.Email) error
}

// MailerKafka:
// - fetches notification envelopes from Kafka,
// - delivers them via the email dispatcher,
// - commits every message (at-least-once; a failed email is dropped and counted).
type MailerKafka struct {
	// Dependencies
	Consumer kafka.Source
	Sender   EmailSender
	Log      *zap.Logger

	// Behavior
	Workers     int          // number of goroutines delivering emails
	Lag         func() int64 // optional; sampled into metrics.MailerLag
	LagInterval time.Duration
}

func NewMailerKafka(consumer kafka.Source, sender EmailSender, log *zap.Logger) *MailerKafka {
	return &MailerKafka{
		Consumer: consumer,
		Sender:   sender,
		Log:      log,
		Workers:  8,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *MailerKafka) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Sender == nil {
		return errors.New("mailer: missing consumer or sender")
	}
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.Log == nil {
		w.Log = zap.NewNop()
	}

	if w.Lag != nil {
		go w.reportLag(ctx)
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				w.processOne(ctx, m)
			}
		}()
	}

	wg.Wait()
	return nil
}

func (w *MailerKafka) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.ID == "" {
		_ = w.Consumer.Commit(ctx, m) // poison → commit, skip
		metrics.NotificationsTotal.WithLabelValues("malformed").Inc()
		w.Log.Warn("bad notification envelope", zap.Error(err), zap.Int64("offset", m.Offset))
		return
	}

	if err := w.Sender.Send(ctx, env.Email); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		w.Log.Warn("email delivery failed",
			zap.String("id", env.ID),
			zap.String("customer_id", env.CustomerID),
			zap.String("kind", env.Kind),
			zap.Error(err))
	} else {
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}

	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Warn("kafka commit failed", zap.Error(err))
	}
}

func (w *MailerKafka) reportLag(ctx context.Context) {
	every := w.LagInterval
	if every <= 0 {
		every = 15 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		metrics.MailerLag.Set(float64(w.Lag()))
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
