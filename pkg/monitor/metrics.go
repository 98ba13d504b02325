package monitor

import (
	"runtime"
	"sync/atomic"
	"time"

	"rmeyers/peerster/pkg/logger"
)

// Metrics holds the node's traffic counters.
type Metrics struct {
	// Datagrams and bytes moved over the socket
	DatagramsSent     int64
	DatagramsReceived int64
	BytesSent         int64
	BytesReceived     int64
	// Block service and downloads
	BlocksServed    int64
	BytesDownloaded int64
	// Node start time
	Start time.Time
}

// Global metrics instance
var Global = &Metrics{
	Start: time.Now(),
}

func (m *Metrics) CountSent(bytes int) {
	atomic.AddInt64(&m.DatagramsSent, 1)
	atomic.AddInt64(&m.BytesSent, int64(bytes))
}

func (m *Metrics) CountReceived(bytes int) {
	atomic.AddInt64(&m.DatagramsReceived, 1)
	atomic.AddInt64(&m.BytesReceived, int64(bytes))
}

func (m *Metrics) CountBlockServed(bytes int) {
	atomic.AddInt64(&m.BlocksServed, 1)
}

func (m *Metrics) CountDownloaded(bytes int64) {
	atomic.AddInt64(&m.BytesDownloaded, bytes)
}

// LogPeriodic logs runtime metrics at the specified interval
func LogPeriodic(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		elapsed := time.Since(Global.Start).Seconds()
		var throughput float64
		if elapsed > 0 {
			throughput = float64(atomic.LoadInt64(&Global.BytesSent)) / elapsed / 1024
		}

		logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | Out=%.2fKB/s | Sent=%d | Received=%d | BlocksServed=%d",
			runtime.NumGoroutine(),
			ms.HeapAlloc/1024/1024,
			throughput,
			atomic.LoadInt64(&Global.DatagramsSent),
			atomic.LoadInt64(&Global.DatagramsReceived),
			atomic.LoadInt64(&Global.BlocksServed),
		)
	}
}
