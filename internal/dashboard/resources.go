package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"marketflow/logger"
)

// resourceSnapshot is one sample of host resource utilisation.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskUsed    uint64    `json:"disk_used"`
	DiskTotal   uint64    `json:"disk_total"`
	DiskPct     float64   `json:"disk_percent"`
}

type cpuProbe func(ctx context.Context, interval time.Duration) ([]float64, error)
type memProbe func(ctx context.Context) (*mem.VirtualMemoryStat, error)
type diskProbe func(ctx context.Context, path string) (*disk.UsageStat, error)

// resourceSampler periodically samples cpu, memory and disk usage and
// keeps a bounded history of snapshots. Probes are fields so tests can
// substitute them.
type resourceSampler struct {
	items    *history[resourceSnapshot]
	interval time.Duration
	diskPath string
	log      *logger.Entry

	cpuFn  cpuProbe
	memFn  memProbe
	diskFn diskProbe

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
}

func newResourceSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{
		items:    newHistory[resourceSnapshot](limit),
		interval: interval,
		diskPath: diskPath,
		log:      log.WithComponent("resource_sampler"),
		cpuFn: func(ctx context.Context, interval time.Duration) ([]float64, error) {
			return cpu.PercentWithContext(ctx, interval, false)
		},
		memFn:  mem.VirtualMemoryWithContext,
		diskFn: disk.UsageWithContext,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil || s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		for childCtx.Err() == nil {
			if !s.sampleOnce(childCtx) {
				// probes failed fast, pace the retry
				select {
				case <-childCtx.Done():
				case <-time.After(s.interval):
				}
			}
		}
	}()
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	if cancel := s.cancel; cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	if s == nil {
		return nil
	}
	return s.items.snapshot()
}

// sampleOnce takes a single sample. The cpu probe blocks for the sample
// interval, which also paces the loop. Reports whether a snapshot was
// recorded.
func (s *resourceSampler) sampleOnce(ctx context.Context) bool {
	cpuSamples, err := s.cpuFn(ctx, s.interval)
	if err != nil {
		s.log.WithError(err).Debug("cpu sample failed")
		return false
	}
	memStats, err := s.memFn(ctx)
	if err != nil {
		s.log.WithError(err).Debug("memory sample failed")
		return false
	}
	diskStats, err := s.diskFn(ctx, s.diskPath)
	if err != nil {
		s.log.WithError(err).Debug("disk sample failed")
		return false
	}

	var cpuPct float64
	if len(cpuSamples) > 0 {
		cpuPct = cpuSamples[0]
	}
	s.items.add(resourceSnapshot{
		Timestamp:   time.Now(),
		CPUPercent:  cpuPct,
		MemoryUsed:  memStats.Used,
		MemoryTotal: memStats.Total,
		MemoryPct:   memStats.UsedPercent,
		DiskUsed:    diskStats.Used,
		DiskTotal:   diskStats.Total,
		DiskPct:     diskStats.UsedPercent,
	})
	return true
}
