package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"marketflow/logger"
)

func testSampler(limit int) *resourceSampler {
	s := newResourceSampler(limit, time.Millisecond, "/", logger.GetLogger())
	s.cpuFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		return []float64{12.5}, nil
	}
	s.memFn = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 1000, Used: 400, UsedPercent: 40}, nil
	}
	s.diskFn = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Total: 2000, Used: 500, UsedPercent: 25}, nil
	}
	return s
}

func TestSamplerCollectsSnapshots(t *testing.T) {
	s := testSampler(5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.start(ctx)
	deadline := time.Now().Add(time.Second)
	for len(s.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no snapshot collected within a second")
		}
		time.Sleep(time.Millisecond)
	}
	s.stop()

	got := s.snapshot()
	snap := got[len(got)-1]
	if snap.CPUPercent != 12.5 {
		t.Errorf("CPUPercent = %v, want 12.5", snap.CPUPercent)
	}
	if snap.MemoryUsed != 400 || snap.MemoryTotal != 1000 {
		t.Errorf("memory = %d/%d, want 400/1000", snap.MemoryUsed, snap.MemoryTotal)
	}
	if snap.DiskPct != 25 {
		t.Errorf("DiskPct = %v, want 25", snap.DiskPct)
	}
}

func TestSamplerBoundsHistory(t *testing.T) {
	s := testSampler(2)
	for i := 0; i < 5; i++ {
		if !s.sampleOnce(context.Background()) {
			t.Fatal("sampleOnce failed")
		}
	}
	if got := len(s.snapshot()); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}
}

func TestSamplerSkipsFailedProbes(t *testing.T) {
	s := testSampler(5)
	s.cpuFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return nil, errors.New("no cpu stats")
	}
	if s.sampleOnce(context.Background()) {
		t.Fatal("sampleOnce should report failure when a probe errors")
	}
	if got := len(s.snapshot()); got != 0 {
		t.Fatalf("history length = %d, want 0", got)
	}
}

func TestSamplerStopWithoutStart(t *testing.T) {
	s := testSampler(5)
	s.stop()
	s.stop()
}
