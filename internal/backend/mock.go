package backend

import (
	"context"
	"hash/fnv"
	"sync"

	"meeting-scribe/internal/models"
)

// mockTexts are cycled by the mock transcriber so credential-free runs
// still produce a readable transcript.
var mockTexts = []string{
	"I want to cancel my subscription",
	"Yes please go ahead",
	"Can you help me with my account",
	"I've been waiting for over an hour",
	"Thank you very much",
}

// MockTranscriber is a credential-free transcription backend producing
// canned text. It keeps the pipeline fully exercisable in development.
type MockTranscriber struct {
	mu   sync.Mutex
	next int
}

// NewMockTranscriber creates a mock transcription backend.
func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

// Name implements Transcriber.
func (m *MockTranscriber) Name() string { return "mock" }

// Transcribe implements Transcriber.
func (m *MockTranscriber) Transcribe(ctx context.Context, seg models.Segment) (models.TranscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return models.TranscriptionResult{}, err
	}
	m.mu.Lock()
	text := mockTexts[m.next%len(mockTexts)]
	m.next++
	m.mu.Unlock()

	return models.TranscriptionResult{
		SegmentID:  seg.ID,
		Text:       text,
		Confidence: 0.93,
	}, nil
}

// MockEmbedder is a credential-free embedding backend. Vectors are
// deterministic per device so the clusterer groups each device's
// segments together, which is the useful behavior for development runs.
type MockEmbedder struct {
	dim int
}

// NewMockEmbedder creates a mock embedding backend with the given
// vector dimensionality.
func NewMockEmbedder(dim int) *MockEmbedder { return &MockEmbedder{dim: dim} }

// Name implements Embedder.
func (m *MockEmbedder) Name() string { return "mock" }

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, seg models.Segment) (models.EmbeddingVector, error) {
	if err := ctx.Err(); err != nil {
		return models.EmbeddingVector{}, err
	}

	h := fnv.New64a()
	h.Write([]byte(seg.DeviceID))
	seed := h.Sum64()

	vec := make([]float32, m.dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)%1000) / 1000.0
	}
	return models.EmbeddingVector{SegmentID: seg.ID, DeviceID: seg.DeviceID, Vector: vec}, nil
}
