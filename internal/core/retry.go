package core

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a per-clonotype storage call is attempted.
// Attempts below one are treated as one.
type RetryPolicy struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// DefaultRetryPolicy logs and skips on the first failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

// Do runs fn until it succeeds, attempts run out or ctx ends. The wait before
// attempt n+1 is n*Backoff.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return err
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts || p.Backoff <= 0 {
			continue
		}
		timer := time.NewTimer(time.Duration(i) * p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
