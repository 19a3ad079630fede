// Package capture produces the time-ordered PCM frame stream the
// segmenter consumes. Each input device is a Source; a Merger combines
// simultaneously active sources into one stream ordered by capture time.
package capture

import (
	"context"
	"sync"
	"time"

	"meeting-scribe/internal/models"
)

// Source is one audio input device producing fixed-size PCM frames.
type Source interface {
	// DeviceID returns the stable identifier frames are tagged with.
	DeviceID() string

	// Frames returns the channel of captured frames. The channel is
	// closed when the source stops.
	Frames() <-chan models.Frame

	// Start begins capture. Capture stops when ctx is cancelled.
	Start(ctx context.Context) error

	// Close releases the device. Idempotent.
	Close() error
}

// MemorySource is an in-process source fed by Push. It backs tests and
// the audiosend ingestion path where audio arrives already framed.
type MemorySource struct {
	deviceID     string
	frameSamples int
	sampleRate   int
	now          func() int64

	mu      sync.Mutex
	residue []int16
	out     chan models.Frame
	closed  bool
}

// NewMemorySource creates a source that frames pushed PCM into
// frameSamples-sized frames.
func NewMemorySource(deviceID string, frameSamples, sampleRate int) *MemorySource {
	return &MemorySource{
		deviceID:     deviceID,
		frameSamples: frameSamples,
		sampleRate:   sampleRate,
		now:          func() int64 { return time.Now().UnixNano() },
		out:          make(chan models.Frame, 64),
	}
}

// SetClock overrides the timestamp source. Test hook.
func (s *MemorySource) SetClock(now func() int64) { s.now = now }

// DeviceID implements Source.
func (s *MemorySource) DeviceID() string { return s.deviceID }

// Frames implements Source.
func (s *MemorySource) Frames() <-chan models.Frame { return s.out }

// Start implements Source. A memory source has no device to open.
func (s *MemorySource) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Push appends PCM samples, emitting a frame for every complete
// frameSamples run. Partial tails are held until more samples arrive.
func (s *MemorySource) Push(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.residue = append(s.residue, samples...)
	for len(s.residue) >= s.frameSamples {
		frame := models.Frame{
			DeviceID:  s.deviceID,
			Timestamp: s.now(),
			Samples:   append([]int16(nil), s.residue[:s.frameSamples]...),
		}
		s.residue = s.residue[s.frameSamples:]
		select {
		case s.out <- frame:
		default:
			// Consumer fell behind a full channel; drop the oldest
			// rather than block the capture path.
			select {
			case <-s.out:
			default:
			}
			s.out <- frame
		}
	}
}

// Close implements Source.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}
