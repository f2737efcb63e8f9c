/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry retries model API calls that fail with transient errors.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config bounds the retries of one operation. It can be loaded with
// go-envconfig, usually under a prefix such as RETRY_.
type Config struct {
	// MaxRetries is the number of retries after the first attempt; 0 disables retrying.
	MaxRetries int `env:"MAX_RETRIES, default=5"`
	// BaseBackoff is the delay before the first retry. It doubles per attempt.
	BaseBackoff time.Duration `env:"BASE_BACKOFF, default=1s"`
	// MaxBackoff caps the doubled delay.
	MaxBackoff time.Duration `env:"MAX_BACKOFF, default=60s"`
	// MaxJitter bounds the random delay added to each backoff.
	MaxJitter time.Duration `env:"MAX_JITTER, default=500ms"`
}

// Default returns the configuration used when none is given. Rate limits on
// model APIs recover slowly, so the backoffs are long.
func Default() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Validate rejects negative values.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("max retries cannot be negative")
	case c.BaseBackoff < 0:
		return errors.New("base backoff cannot be negative")
	case c.MaxBackoff < 0:
		return errors.New("max backoff cannot be negative")
	case c.MaxJitter < 0:
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// Backoff returns the delay before retry number attempt (0-based), without jitter.
func (c Config) Backoff(attempt int) time.Duration {
	if c.BaseBackoff <= 0 {
		return 0
	}
	d := c.BaseBackoff
	for range attempt {
		if d >= c.MaxBackoff/2 {
			return c.MaxBackoff
		}
		d *= 2
	}
	return min(d, c.MaxBackoff)
}

func (c Config) jitter() time.Duration {
	if c.MaxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(c.MaxJitter)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Do calls fn until it succeeds, fails with an error retryable rejects, or
// the retries run out. attempt is 0 for the first call. Waiting between
// attempts stops early when ctx is done.
func Do[T any](ctx context.Context, cfg Config, operation string, retryable Classifier, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		if result, err = fn(ctx, attempt); err == nil {
			return result, nil
		}
		if !retryable(err) {
			return result, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		wait := cfg.Backoff(attempt) + cfg.jitter()
		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", wait).
			With("error", err.Error()).
			Warn("Transient API error, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
	return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, err)
}
