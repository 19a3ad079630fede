package capture

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/metrics"
)

// Merger combines frames from multiple simultaneously active sources into
// one stream ordered by capture timestamp. Frames are held for a short
// watermark so a momentarily lagging device can still slot its frames in
// order; frames older than the watermark are released regardless.
type Merger struct {
	sources   []Source
	watermark time.Duration
	now       func() int64
	metrics   *metrics.Metrics

	mu   sync.Mutex
	heap frameHeap
	out  chan models.Frame
}

// NewMerger creates a merger over the given sources.
func NewMerger(sources []Source, watermark time.Duration, m *metrics.Metrics) *Merger {
	if m == nil {
		m = metrics.Default
	}
	return &Merger{
		sources:   sources,
		watermark: watermark,
		now:       func() int64 { return time.Now().UnixNano() },
		metrics:   m,
		out:       make(chan models.Frame, 256),
	}
}

// SetClock overrides the watermark clock. Test hook.
func (m *Merger) SetClock(now func() int64) { m.now = now }

// Frames returns the merged, time-ordered frame stream. The channel is
// closed once every source has stopped and the buffer has drained.
func (m *Merger) Frames() <-chan models.Frame { return m.out }

// Run starts all sources and merges until ctx is cancelled and the
// sources close. Blocks; callers run it on its own goroutine.
func (m *Merger) Run(ctx context.Context) error {
	for _, src := range m.sources {
		if err := src.Start(ctx); err != nil {
			close(m.out)
			return err
		}
	}

	var wg sync.WaitGroup
	for _, src := range m.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			for f := range src.Frames() {
				m.metrics.FramesCaptured.WithLabelValues(f.DeviceID).Inc()
				m.mu.Lock()
				heap.Push(&m.heap, f)
				m.mu.Unlock()
			}
		}(src)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(m.watermark / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.release(m.now() - int64(m.watermark))
		case <-done:
			m.release(m.now()) // everything left is final
			close(m.out)
			return nil
		}
	}
}

// release emits, in timestamp order, every held frame not newer than the
// horizon.
func (m *Merger) release(horizon int64) {
	for {
		m.mu.Lock()
		if m.heap.Len() == 0 || m.heap[0].Timestamp > horizon {
			m.mu.Unlock()
			return
		}
		f := heap.Pop(&m.heap).(models.Frame)
		m.mu.Unlock()

		m.metrics.FramesMerged.Inc()
		m.out <- f
	}
}

type frameHeap []models.Frame

func (h frameHeap) Len() int           { return len(h) }
func (h frameHeap) Less(i, j int) bool { return h[i].Timestamp < h[j].Timestamp }
func (h frameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)        { *h = append(*h, x.(models.Frame)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	f := old[n-1]
	*h = old[:n-1]
	return f
}
