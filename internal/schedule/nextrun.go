// Package schedule computes when a recurrence runs next.
//
// Next is pure: the same input and now always produce the same timestamp.
package schedule

import (
	"fmt"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
)

// RunHour is the local hour at which every recurrence fires.
const RunHour = 8

// MaxIterations bounds the forward search for a valid occurrence.
const MaxIterations = 10000

type Input struct {
	Frequency  model.Frequency
	DayOfWeek  *int // 0 (Sunday) .. 6; weekly and biweekly
	DayOfMonth *int // 1 .. 31; monthly
	StartDate  time.Time
	LastRunAt  *time.Time
}

func FromRecurrence(r model.Recurrence) Input {
	return Input{
		Frequency:  r.Frequency,
		DayOfWeek:  r.DayOfWeek,
		DayOfMonth: r.DayOfMonth,
		StartDate:  r.StartDate,
		LastRunAt:  r.LastRunAt,
	}
}

// Calculator resolves calendar arithmetic in a fixed location.
type Calculator struct {
	loc *time.Location
}

func NewCalculator(loc *time.Location) Calculator {
	if loc == nil {
		loc = time.Local
	}
	return Calculator{loc: loc}
}

func (c Calculator) Location() *time.Location { return c.loc }

// Next returns the first occurrence that is strictly after now, strictly
// after in.LastRunAt (when set) and not before in.StartDate.
func (c Calculator) Next(in Input, now time.Time) (time.Time, error) {
	now = now.In(c.loc)
	var start time.Time
	switch {
	case model.IsDateOnly(in.StartDate):
		// a calendar date starts at local midnight
		y, m, d := in.StartDate.Date()
		start = time.Date(y, m, d, 0, 0, 0, 0, c.loc)
	case !in.StartDate.IsZero():
		start = in.StartDate.In(c.loc)
	}

	valid := func(t time.Time) bool {
		if !t.After(now) {
			return false
		}
		if in.LastRunAt != nil && !t.After(*in.LastRunAt) {
			return false
		}
		return start.IsZero() || !t.Before(start)
	}

	switch in.Frequency {
	case model.FrequencyMonthly:
		return c.nextMonthly(in, now, start, valid)
	case model.FrequencyWeekly:
		return c.nextWeekly(in, now, start, 7, valid)
	case model.FrequencyBiweekly:
		return c.nextWeekly(in, now, start, 14, valid)
	default:
		return time.Time{}, errs.Invalid("frequency", "unsupported frequency %q", in.Frequency)
	}
}

func (c Calculator) nextMonthly(in Input, now, start time.Time, valid func(time.Time) bool) (time.Time, error) {
	day := 0
	if in.DayOfMonth != nil && *in.DayOfMonth >= 1 && *in.DayOfMonth <= 31 {
		day = *in.DayOfMonth
	} else if !start.IsZero() {
		day = start.Day()
	} else {
		day = now.Day()
	}

	cand := c.monthDay(now.Year(), now.Month(), day)
	if !start.IsZero() && cand.Before(start) {
		cand = c.monthDay(start.Year(), start.Month(), day)
	}

	for i := 0; !valid(cand); i++ {
		if i >= MaxIterations {
			return time.Time{}, fmt.Errorf("monthly schedule: no occurrence within %d months", MaxIterations)
		}
		y, m := cand.Year(), cand.Month()+1
		if m > time.December {
			y, m = y+1, time.January
		}
		cand = c.monthDay(y, m, day)
	}
	return cand, nil
}

func (c Calculator) nextWeekly(in Input, now, start time.Time, interval int, valid func(time.Time) bool) (time.Time, error) {
	dow := 0
	if in.DayOfWeek != nil && *in.DayOfWeek >= 0 && *in.DayOfWeek <= 6 {
		dow = *in.DayOfWeek
	}

	ahead := (dow - int(now.Weekday()) + 7) % 7
	if ahead == 0 {
		// never fire again on the day it is evaluated
		ahead = interval
	}
	cand := c.addDays(now, ahead)

	if !start.IsZero() && cand.Before(start) {
		cand = c.addDays(start, (dow-int(start.Weekday())+7)%7)
		if cand.Before(start) {
			cand = c.addDays(cand, 7)
		}
	}

	if interval == 14 && !start.IsZero() && weeksBetween(start, cand)%2 != 0 {
		cand = c.addDays(cand, 7)
	}

	for i := 0; !valid(cand); i++ {
		if i >= MaxIterations {
			return time.Time{}, fmt.Errorf("weekly schedule: no occurrence within %d intervals", MaxIterations)
		}
		cand = c.addDays(cand, interval)
	}
	return cand, nil
}

// monthDay builds y-m-day at RunHour, clamping day to the month length.
func (c Calculator) monthDay(y int, m time.Month, day int) time.Time {
	if n := DaysIn(y, m); day > n {
		day = n
	}
	return time.Date(y, m, day, RunHour, 0, 0, 0, c.loc)
}

// addDays moves by calendar days and pins the result to RunHour.
func (c Calculator) addDays(t time.Time, n int) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day()+n, RunHour, 0, 0, 0, c.loc)
}

func DaysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// weeksBetween counts whole weeks between the calendar dates of a and b.
func weeksBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(db.Sub(da).Hours() / 24)
	return days / 7
}
