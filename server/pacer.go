package server

import (
	"context"
	"runtime"
	"time"
)

// DefaultSpinWindow is how long before a deadline the pacer stops sleeping
// and starts spinning.
const DefaultSpinWindow = 2 * time.Millisecond

// Pacer releases a loop once per period. It sleeps until shortly before each
// deadline and spins for the rest. A loop that falls more than a period
// behind is re-anchored instead of bursting.
type Pacer struct {
	period time.Duration
	spin   time.Duration
	next   time.Time
}

// NewPacer returns a pacer whose first deadline is one period from the first
// Wait.
//
// Parameters:
//   - period: The frame duration
//   - spin: How long before each deadline Wait stops sleeping and spins
//
// Returns:
//   - A new Pacer
func NewPacer(period, spin time.Duration) *Pacer {
	if spin < 0 {
		spin = 0
	}

	return &Pacer{period: period, spin: spin}
}

// Wait blocks until the next deadline.
//
// Parameters:
//   - ctx: Cancels the wait
//
// Returns:
//   - ctx.Err() if ctx is cancelled first
func (p *Pacer) Wait(ctx context.Context) error {
	now := time.Now()
	if p.next.IsZero() {
		p.next = now.Add(p.period)
	}

	if remaining := time.Until(p.next) - p.spin; remaining > 0 {
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for time.Now().Before(p.next) {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}

	p.next = p.next.Add(p.period)
	if now := time.Now(); p.next.Before(now) {
		p.next = now.Add(p.period)
	}

	return ctx.Err()
}
