package jobs

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval matches the backend's suggested status cadence.
const DefaultPollInterval = 2 * time.Second

// Poller calls check on every tick until check reports done or the poller is
// stopped. Ticks that arrive while a check is running are dropped, so at most
// one check is outstanding.
type Poller struct {
	interval time.Duration
	check    func(ctx context.Context) bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewPoller(interval time.Duration, check func(ctx context.Context) bool) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{interval: interval, check: check, done: make(chan struct{})}
}

// Start launches the loop. It must be called at most once.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.check(ctx) {
				return
			}
		}
	}
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once, and before Start.
func (p *Poller) Stop() {
	p.once.Do(func() {
		if p.cancel == nil {
			close(p.done)
			return
		}
		p.cancel()
	})
	<-p.done
}

// Done is closed once the loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }
