package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream   int64
	errorsRest     int64
	warnsStream    int64
	warnsRest      int64
	streamMessages int64
	restRequests   int64
	cacheHits      int64
	cacheMisses    int64
	streams        sync.Map // map[string]*streamStat
)

func recordWarn(component string) {
	if strings.Contains(component, "stream") || strings.Contains(component, "realtime") {
		atomic.AddInt64(&warnsStream, 1)
	} else if strings.Contains(component, "rest") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&warnsRest, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "stream") || strings.Contains(component, "realtime") {
		atomic.AddInt64(&errorsStream, 1)
	} else if strings.Contains(component, "rest") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&errorsRest, 1)
	}
}

func IncrementStreamMessage(size int) {
	atomic.AddInt64(&streamMessages, 1)
	recordStream("ws", size)
}

func IncrementRestRequest(size int) {
	atomic.AddInt64(&restRequests, 1)
	recordStream("rest", size)
}

func IncrementCacheHit() {
	atomic.AddInt64(&cacheHits, 1)
}

func IncrementCacheMiss() {
	atomic.AddInt64(&cacheMisses, 1)
}

func RecordStreamMessage(name string, size int) {
	recordStream(name, size)
}

func recordStream(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	ss := v.(*streamStat)
	atomic.AddInt64(&ss.messages, 1)
	atomic.AddInt64(&ss.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and stream statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		name := k.(string)
		ss := v.(*streamStat)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&ss.messages),
			"bytes":    atomic.LoadInt64(&ss.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_stream":   atomic.LoadInt64(&errorsStream),
		"errors_rest":     atomic.LoadInt64(&errorsRest),
		"warns_stream":    atomic.LoadInt64(&warnsStream),
		"warns_rest":      atomic.LoadInt64(&warnsRest),
		"stream_messages": atomic.LoadInt64(&streamMessages),
		"rest_requests":   atomic.LoadInt64(&restRequests),
		"cache_hits":      atomic.LoadInt64(&cacheHits),
		"cache_misses":    atomic.LoadInt64(&cacheMisses),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"streams":         streamData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsRest"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_rest"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("StreamMessages"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_messages"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RestRequests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rest_requests"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("CacheHits"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cache_hits"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("CacheMisses"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cache_misses"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range streamData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamMessagesByName"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamBytesByName"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
