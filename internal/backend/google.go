package backend

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"meeting-scribe/internal/audio"
	"meeting-scribe/internal/models"
)

// GoogleTranscriber transcribes segments with Google Cloud Speech-to-Text
// using one unary Recognize call per segment. Requires
// GOOGLE_APPLICATION_CREDENTIALS in the environment.
type GoogleTranscriber struct {
	client   *speech.Client
	language string
}

// NewGoogleTranscriber creates the Cloud Speech backend.
func NewGoogleTranscriber(ctx context.Context, language string) (*GoogleTranscriber, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if language == "" {
		language = "en-US"
	}
	return &GoogleTranscriber{client: c, language: language}, nil
}

// Name implements Transcriber.
func (g *GoogleTranscriber) Name() string { return "google" }

// Transcribe implements Transcriber.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, seg models.Segment) (models.TranscriptionResult, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(seg.SampleRate),
			LanguageCode:    g.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: audio.EncodePCM(seg.Samples),
			},
		},
	})
	if err != nil {
		return models.TranscriptionResult{}, err
	}

	var text string
	var confidence float64
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if text != "" {
			text += " "
		}
		text += alt.Transcript
		if float64(alt.Confidence) > confidence {
			confidence = float64(alt.Confidence)
		}
	}

	return models.TranscriptionResult{
		SegmentID:  seg.ID,
		Text:       text,
		Confidence: confidence,
	}, nil
}

// Close releases the underlying client.
func (g *GoogleTranscriber) Close() error {
	return g.client.Close()
}
