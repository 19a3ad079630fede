package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/metrics"
)

// ErrClosed is returned by Submit after the dispatcher began draining.
var ErrClosed = errors.New("dispatcher is closed")

// laneConfig holds the per-backend admission and retry policy.
type laneConfig struct {
	name     string // "transcription" | "embedding", for logs and metrics
	provider string
	window   int // bounded concurrent in-flight calls
	timeout  time.Duration
	backoff  time.Duration
}

// lane runs one backend's bounded worker window. Segments queue in strict
// arrival order when the window is full - transcript completeness is a
// correctness requirement, so nothing is ever dropped. Results are
// buffered by arrival sequence and delivered in order even when the
// backend completes out of order.
type lane[R any] struct {
	cfg     laneConfig
	call    func(ctx context.Context, seg models.Segment) (R, error)
	failed  func(seg models.Segment, err error) R
	deliver func(R)
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []laneItem
	closed bool

	deliverMu   sync.Mutex
	nextSeq     uint64
	deliverNext uint64
	ready       map[uint64]R
}

type laneItem struct {
	seq uint64
	seg models.Segment
}

func newLane[R any](
	cfg laneConfig,
	call func(ctx context.Context, seg models.Segment) (R, error),
	failed func(seg models.Segment, err error) R,
	deliver func(R),
	m *metrics.Metrics,
) *lane[R] {
	ctx, cancel := context.WithCancel(context.Background())
	l := &lane[R]{
		cfg:     cfg,
		call:    call,
		failed:  failed,
		deliver: deliver,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(map[uint64]R),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *lane[R]) start() {
	for i := 0; i < l.cfg.window; i++ {
		l.wg.Add(1)
		go l.worker()
	}
}

// submit appends the segment to the FIFO admission queue.
func (l *lane[R]) submit(seg models.Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.queue = append(l.queue, laneItem{seq: l.nextSeq, seg: seg})
	l.nextSeq++
	l.metrics.DispatchQueued.WithLabelValues(l.cfg.name).Set(float64(len(l.queue)))
	l.cond.Signal()
	return nil
}

func (l *lane[R]) worker() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		it := l.queue[0]
		l.queue = l.queue[1:]
		l.metrics.DispatchQueued.WithLabelValues(l.cfg.name).Set(float64(len(l.queue)))
		l.mu.Unlock()

		l.metrics.DispatchInFlight.WithLabelValues(l.cfg.name).Inc()
		r := l.process(it.seg)
		l.metrics.DispatchInFlight.WithLabelValues(l.cfg.name).Dec()

		l.complete(it.seq, r)
	}
}

// process runs the backend call with one bounded retry. Persistent
// failure yields a placeholder so one bad segment cannot stall the
// pipeline.
func (l *lane[R]) process(seg models.Segment) R {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			l.metrics.BackendRetries.WithLabelValues(l.cfg.name).Inc()
			select {
			case <-time.After(l.cfg.backoff << (attempt - 1)):
			case <-l.ctx.Done():
			}
			if l.ctx.Err() != nil {
				break
			}
		}

		callCtx, cancel := context.WithTimeout(l.ctx, l.cfg.timeout)
		start := time.Now()
		r, err := l.call(callCtx, seg)
		cancel()
		l.metrics.RecordBackendCall(l.cfg.name, l.cfg.provider, err, time.Since(start).Seconds())
		if err == nil {
			return r
		}
		lastErr = err
		if l.ctx.Err() != nil {
			break
		}
	}

	l.metrics.ResultsFailed.WithLabelValues(l.cfg.name).Inc()
	return l.failed(seg, lastErr)
}

// complete stores the result keyed by arrival sequence and delivers every
// contiguous run that is now ready, preserving segment-arrival order.
func (l *lane[R]) complete(seq uint64, r R) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	l.ready[seq] = r
	if seq != l.deliverNext {
		l.metrics.ResultsReordered.Inc()
	}
	var batch []R
	for {
		v, ok := l.ready[l.deliverNext]
		if !ok {
			break
		}
		delete(l.ready, l.deliverNext)
		l.deliverNext++
		batch = append(batch, v)
	}
	l.mu.Unlock()

	for _, v := range batch {
		l.deliver(v)
	}
}

// close drains the lane: queued segments are still processed, but if the
// deadline passes in-flight calls are cancelled and surface as
// placeholders. Every submitted segment yields exactly one result.
func (l *lane[R]) close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel() // abort in-flight calls; workers finish via placeholders
		<-done
		return ctx.Err()
	}
}
