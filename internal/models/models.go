// Package models defines the data structures that flow through the
// capture-to-history pipeline.
package models

import "time"

// Frame is one fixed-size block of PCM samples captured from a single
// input device. Frames are immutable once produced; the segmenter is the
// only consumer and discards them after classification.
type Frame struct {
	DeviceID  string
	Timestamp int64 // monotonic capture time, nanoseconds
	Samples   []int16
}

// Duration returns the wall time covered by the frame at the given rate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(sampleRate)
}

// Segment is one contiguous run of detected speech, bounded by silence or
// by the segmenter's duration cap. IDs are unique and monotonically
// increasing across all devices; EndTs > StartTs always holds.
type Segment struct {
	ID         uint64
	DeviceID   string
	StartTs    int64 // nanoseconds
	EndTs      int64 // nanoseconds
	SampleRate int
	Samples    []int16
}

// Duration returns the time span covered by the segment.
func (s Segment) Duration() time.Duration {
	return time.Duration(s.EndTs - s.StartTs)
}

// TranscriptionResult is the text produced for one segment. Failed results
// are placeholders for segments whose backend calls did not recover; they
// keep the transcript complete without blocking the stream.
type TranscriptionResult struct {
	SegmentID  uint64
	Text       string
	Confidence float64
	Failed     bool
	FailReason string
}

// EmbeddingVector is the fixed-length voice embedding produced for one
// segment. Once ingested by the clusterer it is owned exclusively by it.
type EmbeddingVector struct {
	SegmentID uint64
	DeviceID  string
	Vector    []float32
	Failed    bool
}

// TranscriptEntry is the unit rendered to the live view and persisted per
// calendar day. SpeakerID is empty until the clusterer assigns one and may
// be revised by a later re-cluster pass.
type TranscriptEntry struct {
	SegmentID uint64    `json:"segmentId"`
	SpeakerID string    `json:"speakerId,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Failed    bool      `json:"failed,omitempty"`
}

// Summary is generated from a contiguous run of transcript entries.
// Immutable once created: speaker renames never rewrite its text.
type Summary struct {
	RangeStart  time.Time `json:"rangeStart"`
	RangeEnd    time.Time `json:"rangeEnd"`
	Text        string    `json:"text"`
	ActionItems []string  `json:"actionItems,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ClusterAssignment links one segment to one speaker identity. Assignments
// are revisable: a re-cluster pass may move a segment between speakers.
type ClusterAssignment struct {
	SegmentID uint64
	SpeakerID string
}
