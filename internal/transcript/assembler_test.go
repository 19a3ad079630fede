package transcript

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"meeting-scribe/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	entries   []models.TranscriptEntry
	summaries []models.Summary
}

func (s *memStore) AppendEntry(e models.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) AppendSummary(sum models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}

type memPublisher struct {
	mu        sync.Mutex
	entries   []models.TranscriptEntry
	summaries []models.Summary
}

func (p *memPublisher) PublishEntry(_ context.Context, e models.TranscriptEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	return nil
}

func (p *memPublisher) PublishSummary(_ context.Context, s models.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return nil
}

type stubSummarizer struct {
	enabled bool
	empty   bool // reply with a no-content summary, the "none" case
	calls   chan []models.TranscriptEntry
}

func newStubSummarizer(enabled bool) *stubSummarizer {
	return &stubSummarizer{enabled: enabled, calls: make(chan []models.TranscriptEntry, 8)}
}

func (s *stubSummarizer) Enabled() bool { return s.enabled }

func (s *stubSummarizer) Summarize(_ context.Context, entries []models.TranscriptEntry, displayName func(string) string) (models.Summary, error) {
	s.calls <- entries
	if s.empty {
		return models.Summary{
			RangeStart: entries[0].Timestamp,
			RangeEnd:   entries[len(entries)-1].Timestamp,
			CreatedAt:  time.Now(),
		}, nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, displayName(e.SpeakerID))
	}
	return models.Summary{
		RangeStart: entries[0].Timestamp,
		RangeEnd:   entries[len(entries)-1].Timestamp,
		Text:       "summary of " + strings.Join(names, ","),
		CreatedAt:  time.Now(),
	}, nil
}

func trackAndDeliver(a *Assembler, id uint64, startTs int64, text string, failed bool) {
	a.TrackSegment(models.Segment{ID: id, DeviceID: "mic0", StartTs: startTs, EndTs: startTs + 1e9, SampleRate: 16000})
	a.OnTranscription(models.TranscriptionResult{SegmentID: id, Text: text, Failed: failed})
}

func TestAssembler_AppendsAndPublishesEntries(t *testing.T) {
	store := &memStore{}
	pub := &memPublisher{}
	a := New(Config{EverySegments: 100}, store, pub, nil, nil, nil)

	start := time.Now().Truncate(time.Second).UnixNano()
	trackAndDeliver(a, 1, start, "hello there", false)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Fatalf("stored %d entries, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Text != "hello there" {
		t.Errorf("text = %q", e.Text)
	}
	if e.Timestamp.UnixNano() != start {
		t.Errorf("timestamp = %d, want segment start %d", e.Timestamp.UnixNano(), start)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.entries) != 1 {
		t.Fatalf("published %d entries, want 1", len(pub.entries))
	}
}

func TestAssembler_FailedResultBecomesPlaceholder(t *testing.T) {
	store := &memStore{}
	a := New(Config{EverySegments: 1}, store, nil, newStubSummarizer(true), nil, nil)

	trackAndDeliver(a, 1, time.Now().UnixNano(), "", true)
	a.Flush()

	store.mu.Lock()
	if len(store.entries) != 1 || !store.entries[0].Failed {
		t.Fatalf("expected one failed placeholder entry, got %+v", store.entries)
	}
	if store.entries[0].Text == "" {
		t.Error("placeholder entry has empty text")
	}
	// Placeholders never reach a summary window.
	if len(store.summaries) != 0 {
		t.Errorf("got %d summaries, want 0", len(store.summaries))
	}
	store.mu.Unlock()
}

func TestAssembler_SummaryTriggersOnCount(t *testing.T) {
	store := &memStore{}
	pub := &memPublisher{}
	sum := newStubSummarizer(true)
	resolve := func(id string) string {
		if id == "spk-1" {
			return "Ada"
		}
		return "Unknown"
	}
	a := New(Config{EverySegments: 2}, store, pub, sum, resolve, nil)

	base := time.Now().UnixNano()
	trackAndDeliver(a, 1, base, "first", false)
	a.SetSpeaker(1, "spk-1")

	select {
	case <-sum.calls:
		t.Fatal("summary triggered before the window filled")
	case <-time.After(20 * time.Millisecond):
	}

	trackAndDeliver(a, 2, base+int64(time.Second), "second", false)

	var window []models.TranscriptEntry
	select {
	case window = <-sum.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("summary never triggered")
	}
	if len(window) != 2 {
		t.Fatalf("summary window has %d entries, want 2", len(window))
	}
	if window[0].SpeakerID != "spk-1" {
		t.Errorf("window entry speaker = %q, want spk-1", window[0].SpeakerID)
	}

	a.Flush()
	store.mu.Lock()
	if len(store.summaries) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(store.summaries))
	}
	if !strings.Contains(store.summaries[0].Text, "Ada") {
		t.Errorf("summary did not freeze the display name: %q", store.summaries[0].Text)
	}
	store.mu.Unlock()

	pub.mu.Lock()
	if len(pub.summaries) != 1 {
		t.Errorf("published %d summaries, want 1", len(pub.summaries))
	}
	pub.mu.Unlock()
}

func TestAssembler_EmptySummaryNotStored(t *testing.T) {
	store := &memStore{}
	pub := &memPublisher{}
	sum := newStubSummarizer(true)
	sum.empty = true
	a := New(Config{EverySegments: 1}, store, pub, sum, nil, nil)

	trackAndDeliver(a, 1, time.Now().UnixNano(), "quiet chatter", false)

	select {
	case <-sum.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("summarizer never invoked")
	}
	a.Flush()

	store.mu.Lock()
	if len(store.summaries) != 0 {
		t.Errorf("stored %d summaries for a no-content reply, want 0", len(store.summaries))
	}
	store.mu.Unlock()
	pub.mu.Lock()
	if len(pub.summaries) != 0 {
		t.Errorf("published %d summaries for a no-content reply, want 0", len(pub.summaries))
	}
	pub.mu.Unlock()

	_, live := a.Live()
	if len(live) != 0 {
		t.Errorf("live view holds %d summaries, want 0", len(live))
	}
}

func TestAssembler_DisabledSummarizerSkipsSilently(t *testing.T) {
	store := &memStore{}
	sum := newStubSummarizer(false)
	a := New(Config{EverySegments: 1}, store, nil, sum, nil, nil)

	trackAndDeliver(a, 1, time.Now().UnixNano(), "words", false)
	a.Flush()

	select {
	case <-sum.calls:
		t.Fatal("disabled summarizer was invoked")
	default:
	}
	store.mu.Lock()
	if len(store.summaries) != 0 {
		t.Errorf("got %d summaries, want 0", len(store.summaries))
	}
	if len(store.entries) != 1 {
		t.Errorf("entries must still be stored when summarization is off, got %d", len(store.entries))
	}
	store.mu.Unlock()
}

func TestAssembler_SetSpeakersRevisesLiveView(t *testing.T) {
	a := New(Config{EverySegments: 100}, &memStore{}, nil, nil, nil, nil)

	base := time.Now().UnixNano()
	trackAndDeliver(a, 1, base, "one", false)
	trackAndDeliver(a, 2, base+1, "two", false)

	a.SetSpeakers([]models.ClusterAssignment{
		{SegmentID: 1, SpeakerID: "spk-a"},
		{SegmentID: 2, SpeakerID: "spk-b"},
	})
	a.SetSpeakers([]models.ClusterAssignment{
		{SegmentID: 2, SpeakerID: "spk-a"}, // re-cluster moved it
	})

	entries, _ := a.Live()
	if entries[0].SpeakerID != "spk-a" || entries[1].SpeakerID != "spk-a" {
		t.Errorf("live speakers = %q, %q; want both spk-a", entries[0].SpeakerID, entries[1].SpeakerID)
	}
}

func TestAssembler_UntrackedResultIgnored(t *testing.T) {
	store := &memStore{}
	a := New(Config{}, store, nil, nil, nil, nil)

	a.OnTranscription(models.TranscriptionResult{SegmentID: 42, Text: "ghost"})

	store.mu.Lock()
	if len(store.entries) != 0 {
		t.Errorf("stored %d entries for an untracked segment, want 0", len(store.entries))
	}
	store.mu.Unlock()
}
