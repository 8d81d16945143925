package session

import (
	"context"
	"fmt"
	"time"
)

// PollPolicy bounds how long and how often a run's status is polled
type PollPolicy struct {
	Interval    time.Duration // first wait between polls (default 800ms)
	MaxInterval time.Duration // cap when Factor > 1 (default 5s)
	Factor      float64       // interval multiplier per poll, 1.0 means fixed (default)
	MaxWait     time.Duration // total budget per wait (default 3m)
}

// DefaultPollPolicy returns the fixed 800ms interval with a 3 minute budget
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    800 * time.Millisecond,
		MaxInterval: 5 * time.Second,
		Factor:      1.0,
		MaxWait:     3 * time.Minute,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	d := DefaultPollPolicy()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.MaxWait <= 0 {
		p.MaxWait = d.MaxWait
	}
	return p
}

// Clock is the time source used for timestamps and poll waits
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// poll calls check until it reports done, the budget runs out or ctx ends.
// Errors from check are returned as is.
func (p PollPolicy) poll(ctx context.Context, clock Clock, check func(context.Context) (bool, error)) error {
	p = p.withDefaults()
	start := clock.Now()
	interval := p.Interval

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		remaining := p.MaxWait - clock.Now().Sub(start)
		if remaining <= 0 {
			return ErrTimeout
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-clock.After(wait):
		}

		interval = time.Duration(float64(interval) * p.Factor)
		if interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}
}
