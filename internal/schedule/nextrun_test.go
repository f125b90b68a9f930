package schedule

import (
	"testing"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brt = time.FixedZone("BRT", -3*60*60)

func intp(i int) *int { return &i }

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, brt)
}

func TestNext_MonthlyLeapYearScenario(t *testing.T) {
	c := NewCalculator(brt)
	got, err := c.Next(Input{
		Frequency:  model.FrequencyMonthly,
		DayOfMonth: intp(31),
		StartDate:  date(2024, time.January, 1, 0),
	}, date(2024, time.February, 10, 12))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29, RunHour), got)
}

func TestNext_MonthlyClampsToMonthLength(t *testing.T) {
	c := NewCalculator(brt)
	for _, year := range []int{2023, 2024} {
		for m := time.January; m <= time.December; m++ {
			for dom := 1; dom <= 31; dom++ {
				now := date(year, m, 1, 0)
				got, err := c.Next(Input{
					Frequency:  model.FrequencyMonthly,
					DayOfMonth: intp(dom),
					StartDate:  date(2020, time.January, 1, 0),
				}, now)
				require.NoError(t, err)

				want := dom
				if n := DaysIn(year, m); want > n {
					want = n
				}
				assert.Equal(t, m, got.Month(), "dom=%d %s %d", dom, m, year)
				assert.Equal(t, want, got.Day(), "dom=%d %s %d", dom, m, year)
				assert.Equal(t, RunHour, got.Hour())
			}
		}
	}
}

func TestNext_MonthlyDay31InApril(t *testing.T) {
	c := NewCalculator(brt)
	got, err := c.Next(Input{
		Frequency:  model.FrequencyMonthly,
		DayOfMonth: intp(31),
		StartDate:  date(2024, time.January, 1, 0),
	}, date(2024, time.April, 2, 9))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 30, RunHour), got)
}

func TestNext_MonthlyWrapsYear(t *testing.T) {
	c := NewCalculator(brt)
	got, err := c.Next(Input{
		Frequency:  model.FrequencyMonthly,
		DayOfMonth: intp(5),
		StartDate:  date(2024, time.January, 1, 0),
	}, date(2024, time.December, 20, 9))
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 5, RunHour), got)
}

func TestNext_MonthlyReanchorsToFutureStart(t *testing.T) {
	c := NewCalculator(brt)
	got, err := c.Next(Input{
		Frequency:  model.FrequencyMonthly,
		DayOfMonth: intp(10),
		StartDate:  date(2024, time.June, 15, 0),
	}, date(2024, time.March, 1, 9))
	require.NoError(t, err)
	// June 10 precedes the start date, so July 10 is the first valid run.
	assert.Equal(t, date(2024, time.July, 10, RunHour), got)
}

func TestNext_MonthlyRespectsLastRun(t *testing.T) {
	c := NewCalculator(brt)
	last := date(2024, time.March, 10, RunHour)
	got, err := c.Next(Input{
		Frequency:  model.FrequencyMonthly,
		DayOfMonth: intp(10),
		StartDate:  date(2024, time.January, 1, 0),
		LastRunAt:  &last,
	}, date(2024, time.March, 1, 9))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 10, RunHour), got)
}

func TestNext_WeeklySkipsSameDay(t *testing.T) {
	c := NewCalculator(brt)
	monday := date(2024, time.May, 6, 7)
	require.Equal(t, time.Monday, monday.Weekday())

	got, err := c.Next(Input{
		Frequency: model.FrequencyWeekly,
		DayOfWeek: intp(int(time.Monday)),
		StartDate: date(2024, time.January, 1, 0),
	}, monday)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.May, 13, RunHour), got)
}

func TestNext_WeeklyNextWeekday(t *testing.T) {
	c := NewCalculator(brt)
	got, err := c.Next(Input{
		Frequency: model.FrequencyWeekly,
		DayOfWeek: intp(int(time.Friday)),
		StartDate: date(2024, time.January, 1, 0),
	}, date(2024, time.May, 6, 22))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.May, 10, RunHour), got)
}

func TestNext_WeeklyInvalidDayDefaultsToSunday(t *testing.T) {
	c := NewCalculator(brt)
	for _, dow := range []*int{nil, intp(-1), intp(7)} {
		got, err := c.Next(Input{
			Frequency: model.FrequencyWeekly,
			DayOfWeek: dow,
			StartDate: date(2024, time.January, 1, 0),
		}, date(2024, time.May, 8, 10))
		require.NoError(t, err)
		assert.Equal(t, time.Sunday, got.Weekday())
		assert.Equal(t, date(2024, time.May, 12, RunHour), got)
	}
}

func TestNext_WeeklyReanchorsToStart(t *testing.T) {
	c := NewCalculator(brt)
	got, err := c.Next(Input{
		Frequency: model.FrequencyWeekly,
		DayOfWeek: intp(int(time.Wednesday)),
		StartDate: date(2024, time.July, 1, 0), // Monday
	}, date(2024, time.May, 6, 10))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.July, 3, RunHour), got)
}

func TestNext_BiweeklyEvenWeeksFromStart(t *testing.T) {
	c := NewCalculator(brt)
	start := date(2024, time.January, 3, 0) // Wednesday
	in := Input{
		Frequency: model.FrequencyBiweekly,
		DayOfWeek: intp(int(time.Monday)),
		StartDate: start,
	}

	now := date(2024, time.February, 1, 9)
	var prev time.Time
	for i := 0; i < 12; i++ {
		got, err := c.Next(in, now)
		require.NoError(t, err)
		assert.Equal(t, time.Monday, got.Weekday())
		assert.Zero(t, weeksBetween(start, got)%2, "odd week count for %s", got)
		if !prev.IsZero() {
			gap := int(got.Sub(prev).Hours()/24 + 0.5)
			assert.Zero(t, gap%7, "gap %d days", gap)
		}
		prev = got
		last := got
		in.LastRunAt = &last
		now = got
	}
}

func TestNext_StrictlyAfterNowAndLastRun(t *testing.T) {
	c := NewCalculator(brt)
	start := date(2023, time.November, 20, 0)
	freqs := []model.Frequency{model.FrequencyWeekly, model.FrequencyBiweekly, model.FrequencyMonthly}

	for _, f := range freqs {
		for day := 0; day < 120; day += 3 {
			for _, hour := range []int{0, 7, 8, 9, 23} {
				now := time.Date(2024, time.January, 1+day, hour, 30, 0, 0, brt)
				last := now.Add(36 * time.Hour)
				in := Input{
					Frequency:  f,
					DayOfWeek:  intp(day % 7),
					DayOfMonth: intp(1 + day%31),
					StartDate:  start,
					LastRunAt:  &last,
				}
				got, err := c.Next(in, now)
				require.NoError(t, err)
				assert.True(t, got.After(now), "%s: %s not after now %s", f, got, now)
				assert.True(t, got.After(last), "%s: %s not after last %s", f, got, last)
				assert.False(t, got.Before(start))
			}
		}
	}
}

func TestNext_Deterministic(t *testing.T) {
	c := NewCalculator(brt)
	in := Input{Frequency: model.FrequencyBiweekly, DayOfWeek: intp(3), StartDate: date(2024, time.March, 4, 0)}
	now := date(2024, time.April, 17, 11)

	a, err := c.Next(in, now)
	require.NoError(t, err)
	b, err := c.Next(in, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNext_UnknownFrequency(t *testing.T) {
	_, err := NewCalculator(brt).Next(Input{Frequency: "daily"}, time.Now())
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}
