package app

import (
	"context"
	"fmt"
	"io"

	"meeting-scribe/internal/backend"
	"meeting-scribe/internal/backend/remote"
	"meeting-scribe/internal/config"
)

// newTranscriber resolves the configured transcription backend. The
// returned closer is nil for backends with nothing to release.
func newTranscriber(ctx context.Context, cfg config.BackendConfig) (backend.Transcriber, io.Closer, error) {
	switch cfg.Provider {
	case "mock":
		return backend.NewMockTranscriber(), nil, nil
	case "whisper":
		return backend.NewWhisperTranscriber(cfg.Endpoint, cfg.Language), nil, nil
	case "google":
		g, err := backend.NewGoogleTranscriber(ctx, cfg.Language)
		if err != nil {
			return nil, nil, fmt.Errorf("google transcriber: %w", err)
		}
		return g, g, nil
	case "remote":
		c, err := remote.Dial(cfg.Endpoint, cfg.Language, "")
		if err != nil {
			return nil, nil, fmt.Errorf("remote transcriber: %w", err)
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}

// newEmbedder resolves the configured embedding backend. algorithm and
// dim come from the active clustering algorithm so the backend produces
// comparable vectors.
func newEmbedder(cfg config.BackendConfig, algorithm string, dim int) (backend.Embedder, io.Closer, error) {
	switch cfg.Provider {
	case "mock":
		return backend.NewMockEmbedder(dim), nil, nil
	case "filterbank":
		return backend.NewFilterbankEmbedder(dim), nil, nil
	case "remote":
		c, err := remote.Dial(cfg.Endpoint, "", algorithm)
		if err != nil {
			return nil, nil, fmt.Errorf("remote embedder: %w", err)
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
