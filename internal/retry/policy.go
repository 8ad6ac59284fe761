package retry

import (
	"context"
	"fmt"
	"time"

	"marketflow/logger"
)

// Policy holds per-kind attempt budgets and delay schedules. When an
// attempt index runs past the schedule the delay doubles per attempt,
// capped at MaxDelay.
type Policy struct {
	MaxAttempts map[Kind]int
	Delays      map[Kind][]time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the production schedules: rate limits back off the
// longest, auth and balance errors never retry.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: map[Kind]int{
			KindRateLimit:           5,
			KindConnection:          3,
			KindTimeout:             3,
			KindWebSocket:           3,
			KindAPI:                 2,
			KindOrder:               2,
			KindUnknown:             2,
			KindAuth:                1,
			KindInsufficientBalance: 1,
			KindInvalidSymbol:       1,
		},
		Delays: map[Kind][]time.Duration{
			KindRateLimit:  {2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second},
			KindConnection: {1 * time.Second, 2 * time.Second, 4 * time.Second},
			KindTimeout:    {1 * time.Second, 2 * time.Second, 4 * time.Second},
			KindWebSocket:  {2 * time.Second, 5 * time.Second, 10 * time.Second},
			KindAPI:        {1 * time.Second, 3 * time.Second},
			KindOrder:      {1 * time.Second},
			KindUnknown:    {1 * time.Second, 3 * time.Second},
		},
		MaxDelay: 30 * time.Second,
	}
}

// TunedPolicy is the default policy capped by deployment-level knobs.
// Zero values keep the defaults. Non-retryable kinds keep their single
// attempt regardless of maxAttempts.
func TunedPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		for kind, n := range p.MaxAttempts {
			if n > 1 && n > maxAttempts {
				p.MaxAttempts[kind] = maxAttempts
			}
		}
	}
	if baseDelay > 0 {
		for _, sched := range p.Delays {
			for i, d := range sched {
				if d < baseDelay {
					sched[i] = baseDelay
				}
			}
		}
	}
	if maxDelay > 0 {
		p.MaxDelay = maxDelay
	}
	return p
}

// Attempts returns the attempt budget for a kind.
func (p *Policy) Attempts(kind Kind) int {
	if n, ok := p.MaxAttempts[kind]; ok && n > 0 {
		return n
	}
	return 1
}

// Delay returns the wait before the given retry. attempt is zero-based:
// Delay(kind, 0) is the wait after the first failure.
func (p *Policy) Delay(kind Kind, attempt int) time.Duration {
	sched := p.Delays[kind]
	if attempt < len(sched) {
		return sched[attempt]
	}
	d := time.Second << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// OperationError wraps the final error after retries are exhausted.
type OperationError struct {
	Op       string
	Kind     Kind
	Attempts int
	Time     time.Time
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", e.Op, e.Attempts, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// RecoveryFunc runs between attempts for a kind, e.g. to rebuild a client
// after auth-adjacent API errors. A recovery failure aborts the retry loop.
type RecoveryFunc func(ctx context.Context, kind Kind, attempt int, err error) error

// Executor runs operations under the policy and records outcome stats.
type Executor struct {
	policy   *Policy
	stats    *Stats
	recovery map[Kind]RecoveryFunc
	log      *logger.Entry
}

func NewExecutor(policy *Policy) *Executor {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Executor{
		policy:   policy,
		stats:    NewStats(),
		recovery: make(map[Kind]RecoveryFunc),
		log:      logger.GetLogger().WithComponent("retry"),
	}
}

// OnKind registers a recovery hook for a kind.
func (e *Executor) OnKind(kind Kind, fn RecoveryFunc) {
	e.recovery[kind] = fn
}

// Do runs op with per-kind retries. The attempt budget is taken from the
// first failure's kind; a later failure of a different kind re-reads the
// budget but never extends past already-used attempts.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	var lastKind Kind

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			e.stats.recordSuccess(name)
			return nil
		}

		lastErr = err
		lastKind = Classify(err)
		e.stats.recordFailure(name, lastKind)

		budget := e.policy.Attempts(lastKind)
		if !lastKind.Retryable() || attempt+1 >= budget {
			opErr := &OperationError{Op: name, Kind: lastKind, Attempts: attempt + 1, Time: time.Now(), Err: lastErr}
			e.log.WithError(lastErr).WithFields(logger.Fields{
				"operation": name,
				"kind":      string(lastKind),
				"attempts":  attempt + 1,
			}).Warn("operation failed")
			return opErr
		}

		if fn, ok := e.recovery[lastKind]; ok {
			if rerr := fn(ctx, lastKind, attempt, err); rerr != nil {
				return &OperationError{Op: name, Kind: lastKind, Attempts: attempt + 1, Time: time.Now(),
					Err: fmt.Errorf("recovery failed: %w", rerr)}
			}
		}

		delay := e.policy.Delay(lastKind, attempt)
		e.log.WithFields(logger.Fields{
			"operation": name,
			"kind":      string(lastKind),
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).Debug("retrying operation")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Stats exposes the executor's counters.
func (e *Executor) Stats() *Stats { return e.stats }
