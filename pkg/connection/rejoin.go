package connection

import (
	"context"
	"errors"
	"time"
)

// ErrGaveUp is returned by Rejoin when MaxAttempts is exhausted.
var ErrGaveUp = errors.New("rejoin attempts exhausted")

// JoinFunc performs one registration attempt.
type JoinFunc func(ctx context.Context) error

// RejoinConfig configures Rejoin.
type RejoinConfig struct {
	// Policy spaces the attempts. The zero Policy waits like
	// DefaultPolicy without jitter.
	Policy Policy

	// MaxAttempts bounds the attempts. Zero retries until ctx is done.
	MaxAttempts int

	// OnAttempt is called after each failed attempt with the wait before
	// the next one.
	OnAttempt func(attempt int, err error, next time.Duration)
}

// Rejoin waits and calls join until it succeeds. Every call starts from
// the policy's initial wait. It returns ctx.Err() when ctx is done first,
// or ErrGaveUp joined with the last failure.
func Rejoin(ctx context.Context, join JoinFunc, cfg RejoinConfig) error {
	var last error
	wait := cfg.Policy.Wait(0)
	for n := 0; cfg.MaxAttempts == 0 || n < cfg.MaxAttempts; n++ {
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		if last = join(ctx); last == nil {
			return nil
		}
		wait = cfg.Policy.Wait(n + 1)
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(n+1, last, wait)
		}
	}
	return errors.Join(ErrGaveUp, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
