// Package timer provides a periodic timer driven by a replaceable clock, so
// application timeout layers and tests can substitute a mock time source.
package timer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oxenran/chops-net-ip/safe"
	"github.com/pkg/errors"
)

// Callback is invoked on every tick with the elapsed time since Start.
// Returning false stops the timer.
type Callback func(elapsed time.Duration) bool

type Periodic struct {
	clk      clock.Clock
	d        time.Duration
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New returns a periodic timer with interval d. A nil clk uses the wall
// clock.
func New(clk clock.Clock, d time.Duration) *Periodic {
	if clk == nil {
		clk = clock.New()
	}
	return &Periodic{clk: clk, d: d}
}

// Start begins ticking, invoking cb on each interval from a separate
// goroutine. It returns an error if the timer is already running or the
// interval is not positive.
func (p *Periodic) Start(cb Callback) error {
	if p.d <= 0 {
		return errors.Errorf("timer: interval %v <= 0", p.d)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("timer: already started")
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stopChan := p.stopChan
	p.wg.Add(1)
	safe.Go(func() {
		defer p.wg.Done()
		p.run(cb, stopChan)
	})
	return nil
}

func (p *Periodic) run(cb Callback, stopChan chan struct{}) {
	start := p.clk.Now()
	ticker := p.clk.Ticker(p.d)
	defer ticker.Stop()
	for {
		select {
		case <-stopChan:
			return
		case now := <-ticker.C:
			if !cb(now.Sub(start)) {
				p.mu.Lock()
				p.running = false
				p.mu.Unlock()
				return
			}
		}
	}
}

// Stop cancels the timer and waits for the tick goroutine to exit. It
// returns false if the timer was not running.
func (p *Periodic) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()
	p.wg.Wait()
	return true
}
