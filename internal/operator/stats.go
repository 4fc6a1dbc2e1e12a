package operator

import (
	"sync"
	"time"
)

const (
	trailingWindow = 25
	historyLimit   = 2048
)

// Stats summarizes an operator's throughput and latency.
type Stats struct {
	Name                           string  `json:"name"`
	Type                           string  `json:"type"`
	State                          string  `json:"state"`
	FramesProcessed                uint64  `json:"frames_processed"`
	AvgProcessingLatencyMs         float64 `json:"avg_processing_latency_ms"`
	TrailingAvgProcessingLatencyMs float64 `json:"trailing_avg_processing_latency_ms"`
	AvgQueueLatencyMs              float64 `json:"avg_queue_latency_ms"`
	HistoricalFPS                  float64 `json:"historical_fps"`
}

type latencyStats struct {
	mu         sync.Mutex
	started    time.Time
	processed  uint64
	avgMs      float64
	window     [trailingWindow]float64
	windowLen  int
	windowPos  int
	windowSum  float64
	queueSumMs float64
	queued     uint64
	history    []float64
}

func (s *latencyStats) start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = now
}

func (s *latencyStats) addQueueLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueSumMs += float64(d.Microseconds()) / 1000
	s.queued++
}

func (s *latencyStats) addProcessing(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.avgMs += (ms - s.avgMs) / float64(s.processed)

	if s.windowLen == trailingWindow {
		s.windowSum -= s.window[s.windowPos]
	} else {
		s.windowLen++
	}
	s.window[s.windowPos] = ms
	s.windowSum += ms
	s.windowPos = (s.windowPos + 1) % trailingWindow

	if len(s.history) == historyLimit {
		copy(s.history, s.history[1:])
		s.history = s.history[:historyLimit-1]
	}
	s.history = append(s.history, ms)
}

func (s *latencyStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		FramesProcessed:        s.processed,
		AvgProcessingLatencyMs: s.avgMs,
	}
	if s.windowLen > 0 {
		st.TrailingAvgProcessingLatencyMs = s.windowSum / float64(s.windowLen)
	}
	if s.queued > 0 {
		st.AvgQueueLatencyMs = s.queueSumMs / float64(s.queued)
	}
	if !s.started.IsZero() {
		if secs := time.Since(s.started).Seconds(); secs > 0 {
			st.HistoricalFPS = float64(s.processed) / secs
		}
	}
	return st
}

// Stats returns the operator's latency and throughput counters.
func (b *Base) Stats() Stats {
	st := b.stats.snapshot()
	st.Name = b.name
	st.Type = b.typ
	st.State = b.State().String()
	return st
}

// LatencyHistory returns the most recent processing latencies in
// milliseconds, oldest first.
func (b *Base) LatencyHistory() []float64 {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	return append([]float64(nil), b.stats.history...)
}
