package vad

import (
	"testing"
	"time"

	"meeting-scribe/internal/models"
)

// hardDetector classifies any non-zero frame as certain speech, making
// segmentation behavior deterministic in tests.
type hardDetector struct{}

func (hardDetector) Probability(samples []int16) float64 {
	for _, s := range samples {
		if s != 0 {
			return 1
		}
	}
	return 0
}

const (
	testRate    = 16000
	testSamples = 160 // 10ms frames
	frameDur    = 10 * time.Millisecond
)

func testSegmenter(cfg Config) *Segmenter {
	return NewSegmenter(cfg, &IDGenerator{}, func() Detector { return hardDetector{} }, nil)
}

func baseConfig() Config {
	return Config{
		SampleRate:   testRate,
		FrameSamples: testSamples,
		Threshold:    0.5,
		HangoverIn:   30 * time.Millisecond, // 3 frames
		HangoverOut:  30 * time.Millisecond, // 3 frames
		PreHold:      20 * time.Millisecond, // 2 frames
		MaxSegment:   time.Second,
		MinSegment:   50 * time.Millisecond,
	}
}

// frame builds one 10ms frame; loud frames carry a constant non-zero
// sample.
func frame(device string, idx int, loud bool) models.Frame {
	samples := make([]int16, testSamples)
	if loud {
		for i := range samples {
			samples[i] = 1000
		}
	}
	return models.Frame{
		DeviceID:  device,
		Timestamp: int64(idx) * int64(frameDur),
		Samples:   samples,
	}
}

// feed pushes a pattern of frames ('s' quiet, 'L' loud) and returns the
// segments emitted.
func feed(s *Segmenter, device string, pattern string) []models.Segment {
	var out []models.Segment
	for i, c := range pattern {
		if seg := s.Push(frame(device, i, c == 'L')); seg != nil {
			out = append(out, *seg)
		}
	}
	return out
}

func TestSegmenter_ShortBurstDoesNotOpen(t *testing.T) {
	s := testSegmenter(baseConfig())
	segs := feed(s, "mic0", "ssLLsssss")
	if len(segs) != 0 {
		t.Fatalf("got %d segments, want 0 for a sub-hangover burst", len(segs))
	}
	if got := s.Flush(); len(got) != 0 {
		t.Fatalf("flush emitted %d segments, want 0", len(got))
	}
}

func TestSegmenter_OpenCloseWithPreHold(t *testing.T) {
	s := testSegmenter(baseConfig())
	// Opens on the third loud frame; the segment starts at the first
	// held frame so the onset is not clipped.
	segs := feed(s, "mic0", "ssLLLLLLsss")
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]

	// The ring holds the three confirmation frames plus two pre-hold
	// frames, so the segment opens at the very first frame.
	wantStart := int64(0)
	if seg.StartTs != wantStart {
		t.Errorf("StartTs = %d, want %d", seg.StartTs, wantStart)
	}
	wantEnd := int64(11) * int64(frameDur)
	if seg.EndTs != wantEnd {
		t.Errorf("EndTs = %d, want %d", seg.EndTs, wantEnd)
	}
	if seg.SampleRate != testRate {
		t.Errorf("SampleRate = %d, want %d", seg.SampleRate, testRate)
	}
	wantSamples := int(seg.EndTs-seg.StartTs) / int(frameDur) * testSamples
	if len(seg.Samples) != wantSamples {
		t.Errorf("len(Samples) = %d, want %d", len(seg.Samples), wantSamples)
	}
}

func TestSegmenter_SubMinimumRunDiscarded(t *testing.T) {
	cfg := baseConfig()
	cfg.MinSegment = 100 * time.Millisecond
	s := testSegmenter(cfg)

	segs := feed(s, "mic0", "ssLLLsss")
	if len(segs) != 0 {
		t.Fatalf("got %d segments, want 0 for a sub-minimum run", len(segs))
	}
}

func TestSegmenter_CapSplitsLongUtterance(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSegment = 100 * time.Millisecond
	cfg.MinSegment = 20 * time.Millisecond
	s := testSegmenter(cfg)

	var segs []models.Segment
	for i := 0; i < 40; i++ {
		if seg := s.Push(frame("mic0", i, true)); seg != nil {
			segs = append(segs, *seg)
		}
	}
	segs = append(segs, s.Flush()...)

	if len(segs) < 3 {
		t.Fatalf("got %d segments, want at least 3 from a 400ms utterance capped at 100ms", len(segs))
	}

	for i, seg := range segs {
		if dur := seg.Duration(); dur > cfg.MaxSegment {
			t.Errorf("segment %d duration %s exceeds cap %s", i, dur, cfg.MaxSegment)
		}
		if i == 0 {
			continue
		}
		// Split segments are contiguous and non-overlapping.
		if seg.StartTs != segs[i-1].EndTs {
			t.Errorf("segment %d starts at %d, previous ended at %d", i, seg.StartTs, segs[i-1].EndTs)
		}
		if seg.ID <= segs[i-1].ID {
			t.Errorf("segment ids not increasing: %d then %d", segs[i-1].ID, seg.ID)
		}
	}
}

func TestSegmenter_DevicesSegmentIndependently(t *testing.T) {
	s := testSegmenter(baseConfig())

	pattern := "ssLLLLLLsss"
	var segs []models.Segment
	for i, c := range pattern {
		loud := c == 'L'
		if seg := s.Push(frame("mic0", i, loud)); seg != nil {
			segs = append(segs, *seg)
		}
		// mic1 runs the same speech shifted by silence only.
		if seg := s.Push(frame("mic1", i, loud)); seg != nil {
			segs = append(segs, *seg)
		}
	}

	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2 (one per device)", len(segs))
	}
	if segs[0].DeviceID == segs[1].DeviceID {
		t.Errorf("both segments from %s", segs[0].DeviceID)
	}
	if segs[0].ID == segs[1].ID {
		t.Errorf("segment ids collide across devices: %d", segs[0].ID)
	}
}

func TestSegmenter_FlushEmitsTrailingSpeech(t *testing.T) {
	s := testSegmenter(baseConfig())
	if segs := feed(s, "mic0", "ssLLLLLLLL"); len(segs) != 0 {
		t.Fatalf("got %d segments before flush, want 0", len(segs))
	}
	segs := s.Flush()
	if len(segs) != 1 {
		t.Fatalf("flush emitted %d segments, want 1", len(segs))
	}
	if segs[0].Duration() < 50*time.Millisecond {
		t.Errorf("flushed segment too short: %s", segs[0].Duration())
	}
}

func TestEnergyDetector_Probability(t *testing.T) {
	d := NewEnergyDetector(-50, 0)

	quiet := make([]int16, testSamples)
	if p := d.Probability(quiet); p != 0 {
		t.Errorf("silence probability = %v, want 0", p)
	}

	loud := make([]int16, testSamples)
	for i := range loud {
		loud[i] = 16000 // roughly half scale, well over the floor
	}
	if p := d.Probability(loud); p != 1 {
		t.Errorf("loud probability = %v, want 1", p)
	}
}

func TestEnergyDetector_Smoothing(t *testing.T) {
	d := NewEnergyDetector(-50, 0.5)

	loud := make([]int16, testSamples)
	for i := range loud {
		loud[i] = 16000
	}
	quiet := make([]int16, testSamples)

	if p := d.Probability(loud); p != 1 {
		t.Fatalf("first loud frame = %v, want 1 (primed with raw value)", p)
	}
	// One quiet frame only pulls the smoothed value halfway down.
	if p := d.Probability(quiet); p != 0.5 {
		t.Errorf("smoothed probability = %v, want 0.5", p)
	}
}

func TestIDGenerator_SeedNeverReissues(t *testing.T) {
	g := &IDGenerator{}
	g.Seed(40)
	if got := g.Next(); got != 41 {
		t.Errorf("Next after Seed(40) = %d, want 41", got)
	}
	// Seeding backward must not rewind the counter.
	g.Seed(10)
	if got := g.Next(); got != 42 {
		t.Errorf("Next after backward seed = %d, want 42", got)
	}
}
