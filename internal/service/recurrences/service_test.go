package recurrences

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/schedule"
	"github.com/jmehdipour/recurring-orders/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	utc = time.UTC
	now = time.Date(2024, 2, 10, 12, 0, 0, 0, utc)
)

func intp(i int) *int { return &i }

func newService() (*Service, *testutil.Customers) {
	cs := testutil.NewCustomers(model.Customer{ID: "cus_1", CompanyID: "co_1"})
	co := testutil.NewCompanies(model.Company{ID: "co_1"})
	s := New(cs, co, schedule.NewCalculator(utc), 3).WithClock(func() time.Time { return now })
	return s, cs
}

func validInput() CreateInput {
	return CreateInput{
		Name:          "Monthly supplies",
		Frequency:     "monthly",
		DayOfMonth:    intp(31),
		PaymentMethod: "pix",
		Items:         []model.LineItem{{VariantID: "var_1", Quantity: 1}},
	}
}

func TestCreate_SchedulesFirstRun(t *testing.T) {
	s, cs := newService()

	rec, err := s.Create(context.Background(), "cus_1", validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "co_1", rec.CompanyID)
	assert.Equal(t, model.RecurrenceActive, rec.Status)
	require.NotNil(t, rec.NextRunAt)
	assert.Equal(t, time.Date(2024, 2, 29, 8, 0, 0, 0, utc), *rec.NextRunAt)

	stored := cs.Get("cus_1").Metadata.Recurrences
	require.Len(t, stored, 1)
	assert.Equal(t, rec.ID, stored[0].ID)
}

func TestCreate_Validation(t *testing.T) {
	cases := map[string]func(*CreateInput){
		"name":           func(in *CreateInput) { in.Name = " " },
		"frequency":      func(in *CreateInput) { in.Frequency = "daily" },
		"payment method": func(in *CreateInput) { in.PaymentMethod = "cash" },
		"items":          func(in *CreateInput) { in.Items = nil },
		"quantity":       func(in *CreateInput) { in.Items = []model.LineItem{{VariantID: "v", Quantity: 0}} },
		"day of month":   func(in *CreateInput) { in.DayOfMonth = intp(32) },
		"day of week": func(in *CreateInput) {
			in.Frequency = "weekly"
			in.DayOfWeek = intp(7)
		},
		"start in past": func(in *CreateInput) {
			past := now.AddDate(0, -1, 0)
			in.StartDate = &model.Date{Time: past}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s, cs := newService()
			in := validInput()
			mutate(&in)
			_, err := s.Create(context.Background(), "cus_1", in)
			assert.True(t, errs.IsValidation(err), "got %v", err)
			assert.Zero(t, cs.Updates)
		})
	}
}

func TestCreate_UnknownCompany(t *testing.T) {
	s, _ := newService()
	in := validInput()
	in.CompanyID = "co_missing"
	_, err := s.Create(context.Background(), "cus_1", in)
	assert.True(t, errs.IsNotFound(err))
}

func TestPauseResumeDelete(t *testing.T) {
	s, cs := newService()
	ctx := context.Background()
	rec, err := s.Create(ctx, "cus_1", validInput())
	require.NoError(t, err)

	paused, err := s.Pause(ctx, "cus_1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecurrencePaused, paused.Status)
	assert.Nil(t, paused.NextRunAt)

	c := cs.Get("cus_1")
	c.Metadata.Recurrences[0].LastError = "no shipping option"
	cs.Put(c)

	resumed, err := s.Resume(ctx, "cus_1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecurrenceActive, resumed.Status)
	assert.Empty(t, resumed.LastError)
	require.NotNil(t, resumed.NextRunAt)
	assert.True(t, resumed.NextRunAt.After(now))

	require.NoError(t, s.Delete(ctx, "cus_1", rec.ID))
	assert.Empty(t, cs.Get("cus_1").Metadata.Recurrences)

	err = s.Delete(ctx, "cus_1", rec.ID)
	assert.True(t, errs.IsNotFound(err))
	_, err = s.Pause(ctx, "cus_1", "rec_missing")
	assert.True(t, errs.IsNotFound(err))
}
