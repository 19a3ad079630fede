// Package transcript assembles ordered transcription results into the
// live transcript and drives periodic summarization.
package transcript

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
	"meeting-scribe/internal/observability/metrics"
	"meeting-scribe/internal/summarize"
)

// liveLimit bounds the in-memory live view; full history lives in the
// store.
const liveLimit = 200

// Store is the subset of the history store the assembler writes to.
type Store interface {
	AppendEntry(e models.TranscriptEntry) error
	AppendSummary(s models.Summary) error
}

// Publisher emits entries and summaries to downstream consumers.
type Publisher interface {
	PublishEntry(ctx context.Context, e models.TranscriptEntry) error
	PublishSummary(ctx context.Context, s models.Summary) error
}

// Summarizer condenses a window of entries. Implemented by
// summarize.Client.
type Summarizer interface {
	Enabled() bool
	Summarize(ctx context.Context, entries []models.TranscriptEntry, displayName func(string) string) (models.Summary, error)
}

// Config tunes when a summary window closes.
type Config struct {
	EverySegments int           // close after this many entries
	MaxAge        time.Duration // or when the oldest pending entry is this old
}

// Assembler receives transcription results in segment order and builds
// the transcript.
type Assembler struct {
	cfg        Config
	store      Store
	publisher  Publisher
	summarizer Summarizer
	resolve    func(speakerID string) string
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu        sync.Mutex
	tracked   map[uint64]models.Segment // segments in flight, id -> metadata
	live      []models.TranscriptEntry
	summaries []models.Summary
	pending   []models.TranscriptEntry // entries not yet summarized
	wg        sync.WaitGroup
}

// New builds an assembler. resolve maps speaker ids to display names at
// the moment a summary is generated; the names are frozen into the
// summary text.
func New(cfg Config, store Store, publisher Publisher, summarizer Summarizer, resolve func(string) string, m *metrics.Metrics) *Assembler {
	if m == nil {
		m = metrics.Default
	}
	if resolve == nil {
		resolve = func(string) string { return "" }
	}
	return &Assembler{
		cfg:        cfg,
		store:      store,
		publisher:  publisher,
		summarizer: summarizer,
		resolve:    resolve,
		metrics:    m,
		log:        logging.WithComponent("transcript"),
		tracked:    make(map[uint64]models.Segment),
	}
}

// TrackSegment records a segment's metadata before it is dispatched, so
// the eventual result can be stamped with the segment's start time.
func (a *Assembler) TrackSegment(seg models.Segment) {
	a.mu.Lock()
	seg.Samples = nil // metadata only, the audio is not needed here
	a.tracked[seg.ID] = seg
	a.mu.Unlock()
}

// OnTranscription consumes one result. Results arrive in segment order;
// failed results become placeholder entries so the transcript shows the
// gap instead of silently dropping it.
func (a *Assembler) OnTranscription(res models.TranscriptionResult) {
	a.mu.Lock()
	seg, ok := a.tracked[res.SegmentID]
	if !ok {
		a.mu.Unlock()
		a.log.Warn().Uint64("segment_id", res.SegmentID).Msg("result for untracked segment")
		return
	}
	delete(a.tracked, res.SegmentID)

	entry := models.TranscriptEntry{
		SegmentID: res.SegmentID,
		Text:      res.Text,
		Timestamp: time.Unix(0, seg.StartTs),
		Failed:    res.Failed,
	}
	if res.Failed {
		entry.Text = "[transcription unavailable]"
	}

	a.live = append(a.live, entry)
	if len(a.live) > liveLimit {
		a.live = a.live[len(a.live)-liveLimit:]
	}
	if !entry.Failed && entry.Text != "" {
		a.pending = append(a.pending, entry)
	}
	window := a.takeWindowLocked(false)
	a.mu.Unlock()

	if err := a.store.AppendEntry(entry); err != nil {
		a.log.Error().Err(err).Uint64("segment_id", entry.SegmentID).Msg("persist entry")
	}
	a.metrics.EntriesAppended.Inc()
	if a.publisher != nil {
		if err := a.publisher.PublishEntry(context.Background(), entry); err != nil {
			a.log.Warn().Err(err).Uint64("segment_id", entry.SegmentID).Msg("publish entry")
		}
	}

	if window != nil {
		a.summarizeAsync(window)
	}
}

// takeWindowLocked closes the pending window when it is due and returns
// it, or nil. Caller holds a.mu.
func (a *Assembler) takeWindowLocked(force bool) []models.TranscriptEntry {
	if len(a.pending) == 0 {
		return nil
	}
	due := force
	if a.cfg.EverySegments > 0 && len(a.pending) >= a.cfg.EverySegments {
		due = true
	}
	if a.cfg.MaxAge > 0 && time.Since(a.pending[0].Timestamp) >= a.cfg.MaxAge {
		due = true
	}
	if !due {
		return nil
	}
	window := a.pending
	a.pending = nil
	return window
}

// Run periodically closes stale windows so a quiet room still gets its
// last few entries summarized. Blocks until ctx is canceled.
func (a *Assembler) Run(ctx context.Context) {
	if a.cfg.MaxAge <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(a.cfg.MaxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			window := a.takeWindowLocked(false)
			a.mu.Unlock()
			if window != nil {
				a.summarizeAsync(window)
			}
		}
	}
}

func (a *Assembler) summarizeAsync(window []models.TranscriptEntry) {
	if a.summarizer == nil || !a.summarizer.Enabled() {
		a.metrics.SummariesSkipped.WithLabelValues("disabled").Inc()
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		start := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		sum, err := a.summarizer.Summarize(ctx, window, a.resolve)
		if err != nil {
			if errors.Is(err, summarize.ErrDisabled) || errors.Is(err, summarize.ErrAuth) {
				a.metrics.SummariesSkipped.WithLabelValues("disabled").Inc()
			} else {
				a.metrics.SummariesSkipped.WithLabelValues("error").Inc()
				a.log.Warn().Err(err).Int("entries", len(window)).Msg("summarization failed, window dropped")
			}
			return
		}
		if sum.Text == "" && len(sum.ActionItems) == 0 {
			// The collaborator found nothing worth keeping.
			a.metrics.SummariesSkipped.WithLabelValues("empty").Inc()
			return
		}
		a.metrics.SummariesCreated.Inc()
		a.metrics.SummaryLatency.Observe(time.Since(start).Seconds())

		a.mu.Lock()
		a.summaries = append(a.summaries, sum)
		if len(a.summaries) > liveLimit {
			a.summaries = a.summaries[len(a.summaries)-liveLimit:]
		}
		a.mu.Unlock()

		if err := a.store.AppendSummary(sum); err != nil {
			a.log.Error().Err(err).Msg("persist summary")
		}
		if a.publisher != nil {
			if err := a.publisher.PublishSummary(context.Background(), sum); err != nil {
				a.log.Warn().Err(err).Msg("publish summary")
			}
		}
	}()
}

// SetSpeakers applies revised speaker assignments to the live view. The
// store is updated by the clusterer; this keeps the in-memory view in
// step. Summaries already generated are not revised.
func (a *Assembler) SetSpeakers(assignments []models.ClusterAssignment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bySegment := make(map[uint64]string, len(assignments))
	for _, as := range assignments {
		bySegment[as.SegmentID] = as.SpeakerID
	}
	for i := range a.live {
		if sp, ok := bySegment[a.live[i].SegmentID]; ok {
			a.live[i].SpeakerID = sp
		}
	}
	for i := range a.pending {
		if sp, ok := bySegment[a.pending[i].SegmentID]; ok {
			a.pending[i].SpeakerID = sp
		}
	}
}

// SetSpeaker records a single fast-path assignment in the live view.
func (a *Assembler) SetSpeaker(segmentID uint64, speakerID string) {
	a.SetSpeakers([]models.ClusterAssignment{{SegmentID: segmentID, SpeakerID: speakerID}})
}

// Live returns a copy of the recent entries and summaries.
func (a *Assembler) Live() ([]models.TranscriptEntry, []models.Summary) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]models.TranscriptEntry, len(a.live))
	copy(entries, a.live)
	sums := make([]models.Summary, len(a.summaries))
	copy(sums, a.summaries)
	return entries, sums
}

// Flush closes the pending window unconditionally and waits for
// in-flight summaries. Called on shutdown.
func (a *Assembler) Flush() {
	a.mu.Lock()
	window := a.takeWindowLocked(true)
	a.mu.Unlock()
	if window != nil {
		a.summarizeAsync(window)
	}
	a.wg.Wait()
}
