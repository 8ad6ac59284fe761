package retry

import (
	"testing"
	"time"
)

func TestTunedPolicyCapsBudgets(t *testing.T) {
	p := TunedPolicy(3, 3*time.Second, 10*time.Second)

	if got := p.Attempts(KindRateLimit); got != 3 {
		t.Errorf("rate limit attempts = %d", got)
	}
	if got := p.Attempts(KindAuth); got != 1 {
		t.Errorf("auth attempts = %d", got)
	}
	if d := p.Delay(KindRateLimit, 0); d != 3*time.Second {
		t.Errorf("first delay = %s", d)
	}
	if p.MaxDelay != 10*time.Second {
		t.Errorf("max delay = %s", p.MaxDelay)
	}
}

func TestTunedPolicyZeroKeepsDefaults(t *testing.T) {
	p := TunedPolicy(0, 0, 0)
	d := DefaultPolicy()

	if p.Attempts(KindRateLimit) != d.Attempts(KindRateLimit) {
		t.Error("attempts changed")
	}
	if p.MaxDelay != d.MaxDelay {
		t.Error("max delay changed")
	}
}
