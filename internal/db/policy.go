package db

import (
	"context"
	"errors"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"
)

// Policy bounds every storage operation with a timeout and lets writes retry
// transient failures.
type Policy struct {
	Timeout time.Duration
	// Retries is the total number of write attempts; reads never retry.
	Retries uint
	// InitialInterval is the first backoff delay between write attempts.
	InitialInterval time.Duration
}

// DefaultPolicy matches the documented defaults.
func DefaultPolicy() Policy {
	return Policy{Timeout: 5 * time.Second, Retries: 3, InitialInterval: 50 * time.Millisecond}
}

// WriteBudget is the longest a single Write can take: every attempt running
// to its timeout plus the largest randomized backoff between attempts.
func (p Policy) WriteBudget() time.Duration {
	retries := p.Retries
	if retries == 0 {
		retries = 1
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPolicy().Timeout
	}
	interval := p.InitialInterval
	if interval <= 0 {
		interval = backoff.DefaultInitialInterval
	}

	total := time.Duration(retries) * timeout
	for i := uint(1); i < retries; i++ {
		total += time.Duration(float64(interval) * (1 + backoff.DefaultRandomizationFactor))
		interval = min(time.Duration(float64(interval)*backoff.DefaultMultiplier), backoff.DefaultMaxInterval)
	}
	return total
}

// Read runs fn once under the storage timeout.
func (p Policy) Read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := p.attempt(ctx, fn); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// Write runs fn under the storage timeout, retrying with exponential backoff.
// Retries stop once the caller's context is done.
func (p Policy) Write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	retries := p.Retries
	if retries == 0 {
		retries = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := p.attempt(ctx, fn)
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retries))
	if err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPolicy().Timeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(opCtx)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, gorm.ErrInvalidField),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
