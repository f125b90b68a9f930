package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"github.com/jmehdipour/recurring-orders/internal/metrics"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/notify"
	"github.com/jmehdipour/recurring-orders/internal/pending"
	"github.com/jmehdipour/recurring-orders/internal/purchase"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"github.com/jmehdipour/recurring-orders/internal/schedule"
	"github.com/jmehdipour/recurring-orders/internal/util"
	"go.uber.org/zap"
)

// Purchaser is the part of purchase.Executor the scheduler drives.
type Purchaser interface {
	Execute(ctx context.Context, rec model.Recurrence, cust model.Customer, co model.Company) (*purchase.Result, error)
	Complete(ctx context.Context, res *purchase.Result) (*commerce.Order, error)
}

// RecurrenceScheduler:
// - pages through customers in BatchSize chunks,
// - runs every due recurrence one at a time,
// - writes one metadata update per customer,
// - pauses a recurrence on its first unrecoverable failure.
//
// Processing is sequential on purpose: recurrences of one customer share one
// metadata document.
type RecurrenceScheduler struct {
	// Dependencies
	Customers repository.CustomersRepository
	Companies repository.CompaniesRepository
	Purchaser Purchaser
	Calendar  schedule.Calculator
	Notifier  notify.Notifier
	Runs      repository.RunLogRepository // optional
	Log       *zap.Logger

	// Behavior
	Interval      time.Duration
	BatchSize     int
	WriteAttempts int
	Now           func() time.Time
}

func NewRecurrenceScheduler(
	customers repository.CustomersRepository,
	companies repository.CompaniesRepository,
	purchaser Purchaser,
	calendar schedule.Calculator,
	notifier notify.Notifier,
	runs repository.RunLogRepository,
	log *zap.Logger,
) *RecurrenceScheduler {
	return &RecurrenceScheduler{
		Customers:     customers,
		Companies:     companies,
		Purchaser:     purchaser,
		Calendar:      calendar,
		Notifier:      notifier,
		Runs:          runs,
		Log:           log,
		Interval:      24 * time.Hour,
		BatchSize:     100,
		WriteAttempts: repository.DefaultMutateAttempts,
		Now:           time.Now,
	}
}

// RunStats summarizes one pass.
type RunStats struct {
	Customers     int
	Due           int
	Succeeded     int
	Pending       int
	Paused        int
	WriteFailures int
	Skipped       int // metadata did not decode
}

func (s *RecurrenceScheduler) defaults() {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Interval <= 0 {
		s.Interval = 24 * time.Hour
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Notifier == nil {
		s.Notifier = notify.Nop{}
	}
}

// Run executes a pass immediately and then every Interval until ctx is cancelled.
func (s *RecurrenceScheduler) Run(ctx context.Context) error {
	s.defaults()
	if s.Customers == nil || s.Companies == nil || s.Purchaser == nil {
		return errors.New("scheduler: missing dependencies")
	}

	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.Log.Error("scheduler pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// RunOnce performs a single pass over all customers.
func (s *RecurrenceScheduler) RunOnce(ctx context.Context) (RunStats, error) {
	s.defaults()
	var (
		stats   RunStats
		afterID string
	)
	started := s.Now()

	for {
		page, err := s.Customers.ListPage(ctx, afterID, s.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("list customers after %q: %w", afterID, err)
		}
		for i := range page {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Customers++
			if err := page[i].MetadataErr; err != nil {
				stats.Skipped++
				s.Log.Error("skipping customer with unreadable metadata", zap.String("customer_id", page[i].ID), zap.Error(err))
				continue
			}
			s.processCustomer(ctx, page[i], &stats)
		}
		if len(page) < s.BatchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	s.Log.Info("scheduler pass done",
		zap.Int("customers", stats.Customers),
		zap.Int("due", stats.Due),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("pending", stats.Pending),
		zap.Int("paused", stats.Paused),
		zap.Int("write_failures", stats.WriteFailures),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("took", time.Since(started)))
	return stats, nil
}

// outcome is the result of one recurrence, applied to the customer record
// at write time.
type outcome struct {
	recID   string
	now     time.Time
	next    *time.Time
	err     error
	pending *model.PendingPayment
	order   *commerce.Order
	run     model.RunRecord
}

func (o outcome) apply(c *model.Customer) {
	if o.pending != nil {
		c.Metadata.PendingPayments = pending.Merge(c.Metadata.PendingPayments, []model.PendingPayment{*o.pending})
	}
	rec := c.Metadata.Recurrence(o.recID)
	if rec == nil {
		// deleted by the owner while we ran
		return
	}
	if o.err != nil {
		rec.Pause(o.err.Error(), o.now)
		return
	}
	now := o.now
	rec.LastRunAt = &now
	rec.LastError = ""
	rec.UpdatedAt = o.now
	if rec.Status != model.RecurrenceActive {
		// paused by the owner while we ran
		rec.NextRunAt = nil
		return
	}
	rec.NextRunAt = o.next
}

func (s *RecurrenceScheduler) processCustomer(ctx context.Context, cust model.Customer, stats *RunStats) {
	now := s.Now()
	var due []model.Recurrence
	for _, r := range cust.Metadata.Recurrences {
		if r.Due(now) {
			due = append(due, r)
		}
	}
	if len(due) == 0 {
		return
	}
	stats.Due += len(due)
	log := s.Log.With(zap.String("customer_id", cust.ID))

	companies := map[string]*model.Company{}
	outcomes := make([]outcome, 0, len(due))
	for _, rec := range due {
		outcomes = append(outcomes, s.runOne(ctx, log, cust, rec, companies))
	}

	updated, err := repository.MutateCustomer(ctx, s.Customers, cust.ID, s.WriteAttempts, func(c *model.Customer) error {
		for _, o := range outcomes {
			o.apply(c)
		}
		return nil
	})
	if err != nil {
		stats.WriteFailures++
		log.Error("persist recurrence results failed", zap.Error(err))
		return
	}

	runs := make([]model.RunRecord, 0, len(outcomes))
	for _, o := range outcomes {
		runs = append(runs, o.run)
		metrics.RunsTotal.WithLabelValues(string(o.run.Outcome)).Inc()
		switch {
		case o.err != nil:
			stats.Paused++
			if rec := updated.Metadata.Recurrence(o.recID); rec != nil {
				notify.BestEffort(ctx, s.Notifier, log, cust.ID, notify.KindRecurrencePaused, notify.RecurrencePaused(*updated, *rec))
			}
		case o.pending != nil:
			stats.Pending++
			notify.BestEffort(ctx, s.Notifier, log, cust.ID, notify.KindPaymentInstructions, notify.PaymentInstructions(*updated, *o.pending))
		default:
			stats.Succeeded++
			if o.order != nil {
				notify.BestEffort(ctx, s.Notifier, log, cust.ID, notify.KindOrderConfirmed, notify.OrderConfirmed(*updated, o.order.ID))
			}
		}
	}

	if s.Runs != nil {
		if err := s.Runs.Insert(ctx, runs); err != nil {
			log.Warn("write run history failed", zap.Error(err))
		}
	}
}

// runOne never returns an error: failures become a paused outcome.
func (s *RecurrenceScheduler) runOne(ctx context.Context, log *zap.Logger, cust model.Customer, rec model.Recurrence, companies map[string]*model.Company) outcome {
	now := s.Now()
	log = log.With(zap.String("recurrence_id", rec.ID))
	o := outcome{
		recID: rec.ID,
		now:   now,
		run: model.RunRecord{
			ID:           util.NewID(),
			CustomerID:   cust.ID,
			RecurrenceID: rec.ID,
			Method:       string(rec.PaymentMethod),
			RanAt:        now.UTC(),
		},
	}
	fail := func(err error) outcome {
		o.err = err
		o.run.Outcome = model.RunPaused
		o.run.Error = err.Error()
		log.Warn("recurrence paused", zap.Error(err))
		return o
	}

	companyID := rec.CompanyID
	if companyID == "" {
		companyID = cust.CompanyID
	}
	co, ok := companies[companyID]
	if !ok {
		c, err := s.Companies.GetByID(ctx, companyID)
		if err != nil {
			return fail(err)
		}
		companies[companyID], co = c, c
	}

	res, err := s.Purchaser.Execute(ctx, rec, cust, *co)
	if err != nil {
		return fail(err)
	}
	o.run.CartID = res.CartID
	o.run.PaymentCollectionID = res.PaymentCollectionID

	if !rec.PaymentMethod.Async() {
		order, err := s.Purchaser.Complete(ctx, res)
		if err != nil {
			return fail(err)
		}
		o.order = order
		o.run.OrderID = order.ID
	}

	in := schedule.FromRecurrence(rec)
	in.LastRunAt = &now
	next, err := s.Calendar.Next(in, now)
	if err != nil {
		return fail(err)
	}
	o.next = &next
	o.pending = res.Pending
	if res.Pending != nil {
		o.run.Outcome = model.RunPending
	} else {
		o.run.Outcome = model.RunSucceeded
	}
	log.Info("recurrence executed",
		zap.String("cart_id", res.CartID),
		zap.String("payment_collection_id", res.PaymentCollectionID),
		zap.Time("next_run_at", next))
	return o
}
