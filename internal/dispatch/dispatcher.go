// Package dispatch routes utterance segments to the transcription and
// embedding backends without ever blocking the capture path. Each backend
// runs behind its own bounded worker window so a slow transcription
// backend cannot starve embedding or vice versa; results reach consumers
// in segment-arrival order regardless of backend completion order.
package dispatch

import (
	"context"
	"time"

	"meeting-scribe/internal/backend"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
	"meeting-scribe/internal/observability/metrics"
)

// Config holds dispatcher policy.
type Config struct {
	TranscribeWindow  int
	EmbedWindow       int
	TranscribeTimeout time.Duration
	EmbedTimeout      time.Duration
	RetryBackoff      time.Duration
	DrainTimeout      time.Duration
}

// Dispatcher owns one lane per backend capability.
type Dispatcher struct {
	transcribe *lane[models.TranscriptionResult]
	embed      *lane[models.EmbeddingVector]
	drain      time.Duration
}

// New creates a dispatcher over the given backends. onTranscription and
// onEmbedding receive results in segment-arrival order; the two consumers
// are independent and run concurrently with each other.
func New(
	cfg Config,
	transcriber backend.Transcriber,
	embedder backend.Embedder,
	onTranscription func(models.TranscriptionResult),
	onEmbedding func(models.EmbeddingVector),
	m *metrics.Metrics,
) *Dispatcher {
	if m == nil {
		m = metrics.Default
	}

	d := &Dispatcher{drain: cfg.DrainTimeout}

	d.transcribe = newLane(
		laneConfig{
			name:     "transcription",
			provider: transcriber.Name(),
			window:   cfg.TranscribeWindow,
			timeout:  cfg.TranscribeTimeout,
			backoff:  cfg.RetryBackoff,
		},
		transcriber.Transcribe,
		func(seg models.Segment, err error) models.TranscriptionResult {
			lg := logging.WithSegment("dispatch", seg.ID)
			lg.Warn().Err(err).
				Msg("Transcription failed after retry, surfacing placeholder")
			return models.TranscriptionResult{
				SegmentID:  seg.ID,
				Failed:     true,
				FailReason: errString(err),
			}
		},
		onTranscription,
		m,
	)

	d.embed = newLane(
		laneConfig{
			name:     "embedding",
			provider: embedder.Name(),
			window:   cfg.EmbedWindow,
			timeout:  cfg.EmbedTimeout,
			backoff:  cfg.RetryBackoff,
		},
		embedder.Embed,
		func(seg models.Segment, err error) models.EmbeddingVector {
			lg := logging.WithSegment("dispatch", seg.ID)
			lg.Warn().Err(err).
				Msg("Embedding failed after retry, surfacing placeholder")
			return models.EmbeddingVector{SegmentID: seg.ID, DeviceID: seg.DeviceID, Failed: true}
		},
		onEmbedding,
		m,
	)

	return d
}

// Start launches the backend worker windows.
func (d *Dispatcher) Start() {
	d.transcribe.start()
	d.embed.start()
}

// Submit queues the segment for both capabilities. Never blocks on
// backend latency: a full window queues the segment in FIFO order.
func (d *Dispatcher) Submit(seg models.Segment) error {
	if err := d.transcribe.submit(seg); err != nil {
		return err
	}
	return d.embed.submit(seg)
}

// Close drains both lanes within the configured timeout. Queued segments
// are processed; in-flight calls past the deadline are cancelled and
// surface as placeholders, so no submitted segment is ever lost.
func (d *Dispatcher) Close(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, d.drain)
	defer cancel()

	errT := d.transcribe.close(drainCtx)
	errE := d.embed.close(drainCtx)
	if errT != nil {
		return errT
	}
	return errE
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
