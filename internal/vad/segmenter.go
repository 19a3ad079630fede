package vad

import (
	"fmt"
	"sync/atomic"
	"time"

	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
	"meeting-scribe/internal/observability/metrics"
)

// State is the per-device segmentation state.
type State int

const (
	// StateSilence - no speech run in progress.
	StateSilence State = iota
	// StateSpeech - accumulating an utterance.
	StateSpeech
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "SILENCE"
	case StateSpeech:
		return "SPEECH"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Config holds segmentation parameters.
type Config struct {
	SampleRate   int
	FrameSamples int
	Threshold    float64
	HangoverIn   time.Duration // speech must persist this long to open a segment
	HangoverOut  time.Duration // silence must persist this long to close one
	PreHold      time.Duration // pre-speech audio prepended to each segment
	MaxSegment   time.Duration // force-split cap for unbroken speech
	MinSegment   time.Duration // runs shorter than this are discarded
}

func (c Config) frameDuration() time.Duration {
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
}

func (c Config) frames(d time.Duration) int {
	fd := c.frameDuration()
	if fd <= 0 {
		return 1
	}
	n := int((d + fd - 1) / fd)
	if n < 1 {
		n = 1
	}
	return n
}

// IDGenerator issues process-wide unique, monotonically increasing
// segment ids across all devices.
type IDGenerator struct {
	counter uint64
}

// Next returns the next segment id.
func (g *IDGenerator) Next() uint64 {
	return atomic.AddUint64(&g.counter, 1)
}

// Seed advances the counter so subsequent ids start after n. Ids
// already persisted by an earlier run must never be reissued.
func (g *IDGenerator) Seed(n uint64) {
	for {
		cur := atomic.LoadUint64(&g.counter)
		if cur >= n || atomic.CompareAndSwapUint64(&g.counter, cur, n) {
			return
		}
	}
}

// Segmenter consumes the merged frame stream and emits complete utterance
// segments. Devices are segmented independently: overlapping segments
// from different devices are expected (both sides of a remote call).
// Not safe for concurrent Push; the capture path is single-threaded.
type Segmenter struct {
	cfg         Config
	ids         *IDGenerator
	newDetector func() Detector
	metrics     *metrics.Metrics

	hangoverIn  int
	hangoverOut int
	preHold     int

	devices map[string]*deviceState
}

type deviceState struct {
	state    State
	detector Detector
	ring     []models.Frame // pre-speech hold, bounded at preHold frames
	samples  []int16
	startTs  int64
	endTs    int64
	runIn    int
	runOut   int
}

// NewSegmenter creates a segmenter. newDetector is invoked once per
// device so detector smoothing state stays per-device.
func NewSegmenter(cfg Config, ids *IDGenerator, newDetector func() Detector, m *metrics.Metrics) *Segmenter {
	if m == nil {
		m = metrics.Default
	}
	return &Segmenter{
		cfg:         cfg,
		ids:         ids,
		newDetector: newDetector,
		metrics:     m,
		hangoverIn:  cfg.frames(cfg.HangoverIn),
		hangoverOut: cfg.frames(cfg.HangoverOut),
		// The ring must hold the whole confirmation run plus the
		// configured pre-speech lead-in.
		preHold: cfg.frames(cfg.PreHold) + cfg.frames(cfg.HangoverIn),
		devices: make(map[string]*deviceState),
	}
}

// Push classifies one frame and returns a completed segment when the
// frame closes one, nil otherwise.
func (s *Segmenter) Push(f models.Frame) *models.Segment {
	d := s.devices[f.DeviceID]
	if d == nil {
		d = &deviceState{detector: s.newDetector()}
		s.devices[f.DeviceID] = d
	}

	p := d.detector.Probability(f.Samples)
	s.metrics.SpeechProbability.Observe(p)
	frameEnd := f.Timestamp + int64(f.Duration(s.cfg.SampleRate))

	switch d.state {
	case StateSilence:
		d.ring = append(d.ring, f)
		if len(d.ring) > s.preHold {
			d.ring = d.ring[len(d.ring)-s.preHold:]
		}

		if p < s.cfg.Threshold {
			d.runIn = 0
			return nil
		}
		d.runIn++
		if d.runIn < s.hangoverIn {
			return nil
		}

		// Speech confirmed: open a segment from the held frames so the
		// onset is not clipped.
		d.state = StateSpeech
		d.startTs = d.ring[0].Timestamp
		d.samples = d.samples[:0]
		for _, held := range d.ring {
			d.samples = append(d.samples, held.Samples...)
		}
		d.ring = d.ring[:0]
		d.endTs = frameEnd
		d.runIn, d.runOut = 0, 0
		return nil

	case StateSpeech:
		d.samples = append(d.samples, f.Samples...)
		d.endTs = frameEnd

		if p < s.cfg.Threshold {
			d.runOut++
			if d.runOut >= s.hangoverOut {
				return s.close(f.DeviceID, d, false)
			}
		} else {
			d.runOut = 0
		}

		// Duration cap: emit mid-utterance so tail latency stays
		// bounded; the remainder accumulates as a new utterance.
		if time.Duration(d.endTs-d.startTs) >= s.cfg.MaxSegment {
			seg := s.close(f.DeviceID, d, true)
			d.state = StateSpeech
			d.startTs = frameEnd
			d.endTs = frameEnd
			return seg
		}
		return nil
	}
	return nil
}

// Flush emits any in-progress utterances, one segment per device.
// Called on pipeline teardown so trailing speech is not lost.
func (s *Segmenter) Flush() []models.Segment {
	var out []models.Segment
	for deviceID, d := range s.devices {
		if d.state != StateSpeech {
			continue
		}
		if seg := s.close(deviceID, d, false); seg != nil {
			out = append(out, *seg)
		}
	}
	return out
}

func (s *Segmenter) close(deviceID string, d *deviceState, split bool) *models.Segment {
	samples := append([]int16(nil), d.samples...)
	startTs, endTs := d.startTs, d.endTs

	d.state = StateSilence
	d.samples = d.samples[:0]
	d.ring = d.ring[:0]
	d.runIn, d.runOut = 0, 0

	if endTs <= startTs {
		return nil
	}
	if time.Duration(endTs-startTs) < s.cfg.MinSegment {
		lg := logging.WithDevice("vad", deviceID)
		lg.Debug().
			Dur("duration", time.Duration(endTs-startTs)).
			Msg("Discarding sub-minimum speech run")
		return nil
	}

	seg := &models.Segment{
		ID:         s.ids.Next(),
		DeviceID:   deviceID,
		StartTs:    startTs,
		EndTs:      endTs,
		SampleRate: s.cfg.SampleRate,
		Samples:    samples,
	}

	s.metrics.SegmentsEmitted.WithLabelValues(deviceID).Inc()
	s.metrics.SegmentDuration.Observe(seg.Duration().Seconds())
	if split {
		s.metrics.SegmentsSplit.Inc()
	}

	lg := logging.WithSegment("vad", seg.ID)
	lg.Debug().
		Str("deviceId", deviceID).
		Dur("duration", seg.Duration()).
		Bool("split", split).
		Msg("Segment emitted")
	return seg
}
