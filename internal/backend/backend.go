// Package backend defines the inference capabilities the dispatcher
// routes segments to. Local and remote implementations are
// interchangeable variants selected by configuration; callers depend on
// the capability, never on the concrete provider.
package backend

import (
	"context"
	"errors"

	"meeting-scribe/internal/models"
)

// Transcriber converts one segment's audio into text.
type Transcriber interface {
	// Name identifies the provider for logs and metrics.
	Name() string

	// Transcribe blocks until the backend produces text for the segment
	// or ctx expires.
	Transcribe(ctx context.Context, seg models.Segment) (models.TranscriptionResult, error)
}

// Embedder converts one segment's audio into a fixed-length voice
// embedding.
type Embedder interface {
	Name() string

	// Embed blocks until the backend produces a vector for the segment
	// or ctx expires.
	Embed(ctx context.Context, seg models.Segment) (models.EmbeddingVector, error)
}

// ErrUnavailable reports that the backend cannot accept work at all
// (endpoint unreachable, credential missing). The dispatcher applies its
// retry-then-placeholder policy on top of it.
var ErrUnavailable = errors.New("inference backend unavailable")
