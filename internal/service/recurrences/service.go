package recurrences

import (
	"context"
	"strings"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"github.com/jmehdipour/recurring-orders/internal/schedule"
	"github.com/jmehdipour/recurring-orders/internal/util"
)

// Service is the owner-facing side of recurrences: every change goes through
// a versioned customer write, so it never clobbers a concurrent scheduler run.
type Service struct {
	customers     repository.CustomersRepository
	companies     repository.CompaniesRepository
	calendar      schedule.Calculator
	writeAttempts int
	now           func() time.Time
}

func New(
	customers repository.CustomersRepository,
	companies repository.CompaniesRepository,
	calendar schedule.Calculator,
	writeAttempts int,
) *Service {
	return &Service{
		customers:     customers,
		companies:     companies,
		calendar:      calendar,
		writeAttempts: writeAttempts,
		now:           time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput is the request body of a new recurrence.
type CreateInput struct {
	Name          string           `json:"name"`
	Frequency     string           `json:"frequency"`
	DayOfWeek     *int             `json:"day_of_week"`
	DayOfMonth    *int             `json:"day_of_month"`
	PaymentMethod string           `json:"payment_method"`
	Items         []model.LineItem `json:"items"`
	CompanyID     string           `json:"company_id"`
	StartDate     *model.Date      `json:"start_date"`
}

func (s *Service) List(ctx context.Context, customerID string) ([]model.Recurrence, error) {
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return c.Metadata.Recurrences, nil
}

func (s *Service) Get(ctx context.Context, customerID, id string) (*model.Recurrence, error) {
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	r := c.Metadata.Recurrence(id)
	if r == nil {
		return nil, errs.NotFound("recurrence", id)
	}
	return r, nil
}

// Create validates in, schedules the first run and appends it to the customer.
func (s *Service) Create(ctx context.Context, customerID string, in CreateInput) (*model.Recurrence, error) {
	now := s.now()
	rec, err := s.build(in, now)
	if err != nil {
		return nil, err
	}

	cust, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if rec.CompanyID == "" {
		rec.CompanyID = cust.CompanyID
	}
	if rec.CompanyID == "" {
		return nil, errs.Invalid("company_id", "required")
	}
	if _, err := s.companies.GetByID(ctx, rec.CompanyID); err != nil {
		return nil, err
	}

	next, err := s.calendar.Next(schedule.FromRecurrence(rec), now)
	if err != nil {
		return nil, err
	}
	rec.NextRunAt = &next

	_, err = repository.MutateCustomer(ctx, s.customers, customerID, s.writeAttempts, func(c *model.Customer) error {
		c.Metadata.Recurrences = append(c.Metadata.Recurrences, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) build(in CreateInput, now time.Time) (model.Recurrence, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Recurrence{}, errs.Invalid("name", "required")
	}
	freq, ok := model.ParseFrequency(in.Frequency)
	if !ok {
		return model.Recurrence{}, errs.Invalid("frequency", "must be weekly, biweekly or monthly")
	}
	method, ok := model.ParsePaymentMethod(in.PaymentMethod)
	if !ok {
		return model.Recurrence{}, errs.Invalid("payment_method", "must be credit, pix or boleto")
	}
	if len(in.Items) == 0 {
		return model.Recurrence{}, errs.Invalid("items", "at least one item is required")
	}
	for _, it := range in.Items {
		if it.VariantID == "" || it.Quantity <= 0 {
			return model.Recurrence{}, errs.Invalid("items", "variant_id and a positive quantity are required")
		}
	}

	rec := model.Recurrence{
		ID:            util.PrefixedID("rec"),
		Name:          name,
		Frequency:     freq,
		PaymentMethod: method,
		Items:         in.Items,
		CompanyID:     in.CompanyID,
		Status:        model.RecurrenceActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch freq {
	case model.FrequencyMonthly:
		if in.DayOfMonth == nil || *in.DayOfMonth < 1 || *in.DayOfMonth > 31 {
			return model.Recurrence{}, errs.Invalid("day_of_month", "must be between 1 and 31")
		}
		rec.DayOfMonth = in.DayOfMonth
	default:
		if in.DayOfWeek != nil && (*in.DayOfWeek < 0 || *in.DayOfWeek > 6) {
			return model.Recurrence{}, errs.Invalid("day_of_week", "must be between 0 and 6")
		}
		rec.DayOfWeek = in.DayOfWeek
	}

	rec.StartDate = now
	if in.StartDate != nil && !in.StartDate.IsZero() {
		if in.StartDate.Before(now.AddDate(0, 0, -1)) {
			return model.Recurrence{}, errs.Invalid("start_date", "must not be in the past")
		}
		rec.StartDate = in.StartDate.Time
	}
	return rec, nil
}

// Pause stops scheduling. The recurrence keeps its history.
func (s *Service) Pause(ctx context.Context, customerID, id string) (*model.Recurrence, error) {
	now := s.now()
	return s.mutate(ctx, customerID, id, func(r *model.Recurrence) error {
		r.Pause("", now)
		return nil
	})
}

// Resume reactivates a recurrence and schedules its next run from now.
func (s *Service) Resume(ctx context.Context, customerID, id string) (*model.Recurrence, error) {
	now := s.now()
	return s.mutate(ctx, customerID, id, func(r *model.Recurrence) error {
		next, err := s.calendar.Next(schedule.FromRecurrence(*r), now)
		if err != nil {
			return err
		}
		r.Status = model.RecurrenceActive
		r.NextRunAt = &next
		r.LastError = ""
		r.UpdatedAt = now
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, customerID, id string) error {
	_, err := repository.MutateCustomer(ctx, s.customers, customerID, s.writeAttempts, func(c *model.Customer) error {
		if !c.Metadata.RemoveRecurrence(id) {
			return errs.NotFound("recurrence", id)
		}
		return nil
	})
	return err
}

func (s *Service) mutate(ctx context.Context, customerID, id string, fn func(*model.Recurrence) error) (*model.Recurrence, error) {
	var out model.Recurrence
	_, err := repository.MutateCustomer(ctx, s.customers, customerID, s.writeAttempts, func(c *model.Customer) error {
		r := c.Metadata.Recurrence(id)
		if r == nil {
			return errs.NotFound("recurrence", id)
		}
		if err := fn(r); err != nil {
			return err
		}
		out = *r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
