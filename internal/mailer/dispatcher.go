// Package mailer delivers notification emails through a pool of HTTP
// providers, each guarded by its own circuit breaker.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmehdipour/recurring-orders/internal/model"
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

type Dispatcher struct {
	providers         []Provider
	from              string
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, from string, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	return &Dispatcher{providers: provs, from: from, maxAttempts: maxAttempts}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, email model.Email) error {
	p, err := d.selectProvider()
	if err != nil {
		return err
	}

	if !p.Acquire() {
		return ErrNoAcquire
	}

	return p.Send(ctx, d.from, email)
}

// Send tries up to maxAttempts providers in round-robin order.
func (d *Dispatcher) Send(ctx context.Context, email model.Email) error {
	if email.To == "" {
		return fmt.Errorf("email without recipient")
	}
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		err := d.tryOnce(ctx, email)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if last == nil {
		last = fmt.Errorf("send email failed")
	}

	return last
}
