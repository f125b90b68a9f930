package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"go.uber.org/zap"
)

// SettledFunc is invoked once when a watched collection settles.
type SettledFunc func(ctx context.Context, cartID, paymentCollectionID string) error

// Poller re-fetches payment collections of pending carts until they settle.
// At most one loop runs per cart id. Stopping a loop prevents further
// provider calls; a request already in flight is allowed to finish.
type Poller struct {
	client   commerce.Client
	interval time.Duration
	log      *zap.Logger

	mu    sync.Mutex
	loops map[string]*loop
	wg    sync.WaitGroup
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(client commerce.Client, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{client: client, interval: interval, log: log, loops: make(map[string]*loop)}
}

// Watch starts a loop for cartID owned by ctx. It returns false when a loop
// for that cart is already running.
func (p *Poller) Watch(ctx context.Context, cartID, pcID string, onSettled SettledFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.loops[cartID]; ok {
		return false
	}
	lctx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	p.loops[cartID] = l

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(l.done)
		defer p.remove(cartID, l)
		p.run(lctx, cartID, pcID, onSettled)
	}()
	return true
}

// Stop ends the loop for cartID and waits for it to exit.
func (p *Poller) Stop(cartID string) {
	p.mu.Lock()
	l, ok := p.loops[cartID]
	p.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

func (p *Poller) Active(cartID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[cartID]
	return ok
}

// Close stops every loop.
func (p *Poller) Close() {
	p.mu.Lock()
	for _, l := range p.loops {
		l.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) remove(cartID string, l *loop) {
	p.mu.Lock()
	if p.loops[cartID] == l {
		delete(p.loops, cartID)
	}
	p.mu.Unlock()
	l.cancel()
}

func (p *Poller) run(ctx context.Context, cartID, pcID string, onSettled SettledFunc) {
	log := p.log.With(zap.String("cart_id", cartID), zap.String("payment_collection_id", pcID))
	tick := time.NewTicker(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if ctx.Err() != nil {
			return
		}

		pc, err := p.client.GetPaymentCollection(context.WithoutCancel(ctx), pcID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("settlement poll failed", zap.Error(err))
			continue
		}
		if !pc.Settled() {
			continue
		}

		log.Info("payment settled")
		if onSettled != nil {
			if err := onSettled(context.WithoutCancel(ctx), cartID, pcID); err != nil {
				log.Error("finalize settled payment failed", zap.Error(err))
			}
		}
		return
	}
}
