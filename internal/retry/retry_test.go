package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
)

type codedErr struct{ code string }

func (e *codedErr) Error() string             { return "okx api error code " + e.code }
func (e *codedErr) ExchangeErrorCode() string { return e.code }

func TestClassifyBinanceCodes(t *testing.T) {
	cases := map[int64]Kind{
		-1003: KindRateLimit,
		-1121: KindInvalidSymbol,
		-2010: KindInsufficientBalance,
		-2014: KindAuth,
		-2013: KindOrder,
		-9999: KindAPI,
	}
	for code, want := range cases {
		err := fmt.Errorf("wrapped: %w", &common.APIError{Code: code, Message: "x"})
		if got := Classify(err); got != want {
			t.Fatalf("Classify(code %d) = %s, want %s", code, got, want)
		}
	}
}

func TestClassifyCodePrecedesSubstring(t *testing.T) {
	// message mentions a timeout but the venue code says rate limit
	err := &codedErr{code: "50011"}
	if got := Classify(fmt.Errorf("request timed out: %w", err)); got != KindRateLimit {
		t.Fatalf("code should win over substring, got %s", got)
	}
}

func TestClassifySubstrings(t *testing.T) {
	cases := map[string]Kind{
		"429 too many requests":        KindRateLimit,
		"dial tcp: connection refused": KindConnection,
		"read timed out":               KindTimeout,
		"websocket: close 1006":        KindWebSocket,
		"invalid symbol FOO":           KindInvalidSymbol,
		"api key missing":              KindAuth,
		"something odd":                KindUnknown,
	}
	for msg, want := range cases {
		if got := Classify(errors.New(msg)); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", msg, got, want)
		}
	}
}

func TestClassifyContextDeadline(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != KindTimeout {
		t.Fatalf("got %s", got)
	}
}

func TestPolicyDelaySchedule(t *testing.T) {
	p := DefaultPolicy()
	if d := p.Delay(KindRateLimit, 0); d != 2*time.Second {
		t.Fatalf("first rate limit delay = %s", d)
	}
	if d := p.Delay(KindRateLimit, 4); d != 30*time.Second {
		t.Fatalf("fifth rate limit delay = %s", d)
	}
	// past the schedule: exponential capped at MaxDelay
	if d := p.Delay(KindConnection, 10); d != p.MaxDelay {
		t.Fatalf("overflow delay = %s", d)
	}
}

func testPolicy() *Policy {
	p := DefaultPolicy()
	p.Delays = map[Kind][]time.Duration{}
	p.MaxDelay = time.Millisecond
	return p
}

func TestExecutorRateLimitRetriedToBudget(t *testing.T) {
	ex := NewExecutor(testPolicy())
	calls := 0
	err := ex.Do(context.Background(), "fetch_klines", func(ctx context.Context) error {
		calls++
		return &common.APIError{Code: -1003, Message: "rate limited"}
	})
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Kind != KindRateLimit || opErr.Attempts != 5 {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecutorAuthFailsOnce(t *testing.T) {
	ex := NewExecutor(testPolicy())
	calls := 0
	err := ex.Do(context.Background(), "balance", func(ctx context.Context) error {
		calls++
		return &common.APIError{Code: -2014, Message: "bad api key"}
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Kind != KindAuth {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecutorSuccessAfterRetry(t *testing.T) {
	ex := NewExecutor(testPolicy())
	calls := 0
	err := ex.Do(context.Background(), "ticker", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
	snap := ex.Stats().Snapshot()["ticker"]
	if snap.Failures != 2 || snap.Successes != 1 {
		t.Fatalf("stats wrong: %+v", snap)
	}
}

func TestExecutorContextCancel(t *testing.T) {
	p := testPolicy()
	p.Delays[KindConnection] = []time.Duration{time.Hour}
	ex := NewExecutor(p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ex.Do(ctx, "slow", func(ctx context.Context) error {
			return errors.New("connection refused")
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Do did not return after cancel")
	}
}

func TestExecutorRecoveryHook(t *testing.T) {
	ex := NewExecutor(testPolicy())
	recovered := 0
	ex.OnKind(KindConnection, func(ctx context.Context, kind Kind, attempt int, err error) error {
		recovered++
		return nil
	})
	calls := 0
	err := ex.Do(context.Background(), "reconnect", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("broken pipe")
		}
		return nil
	})
	if err != nil || recovered != 1 {
		t.Fatalf("err=%v recovered=%d", err, recovered)
	}
}

func TestErrorRateHigh(t *testing.T) {
	s := NewStats()
	for i := 0; i < 3; i++ {
		s.recordFailure("op", KindAPI)
	}
	if !s.ErrorRateHigh("op", 3, time.Minute) {
		t.Fatalf("expected high error rate")
	}
	if s.ErrorRateHigh("op", 4, time.Minute) {
		t.Fatalf("threshold 4 should not trip")
	}
	s.recordSuccess("op")
	if s.ErrorRateHigh("op", 1, time.Minute) {
		t.Fatalf("success should clear the window")
	}
	if s.ErrorRateHigh("unseen", 1, time.Minute) {
		t.Fatalf("unknown op should be false")
	}
}
