package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recur_runs_total",
			Help: "Scheduled recurrence executions by outcome",
		},
		[]string{"outcome"}, // succeeded|pending|paused
	)

	CheckoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recur_checkout_total",
			Help: "Interactive checkouts by payment method and outcome",
		},
		[]string{"method", "outcome"}, // credit|pix|boleto , completed|pending|failed|rejected
	)

	CommerceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recur_commerce_calls_total",
			Help: "Commerce API calls by operation and result",
		},
		[]string{"op", "result"}, // ok|retry|error|breaker_open
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recur_notifications_total",
			Help: "Notification lifecycle counter by stage",
		},
		[]string{"stage"}, // queued|enqueue_failed|sent|failed|malformed
	)

	MailerLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recur_mailer_consumer_lag",
			Help: "Messages between the mailer's committed offset and the partition head",
		},
	)
)

var once sync.Once

// MustRegister registers every collector once; serve and the workers may
// both call it in the same process.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			RunsTotal,
			CheckoutTotal,
			CommerceCalls,
			NotificationsTotal,
			MailerLag,
		)
	})
}
