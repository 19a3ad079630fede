package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"meeting-scribe/internal/audio"
	"meeting-scribe/internal/models"
)

// WhisperTranscriber calls a local faster-whisper HTTP server. The model
// itself is an external collaborator; this backend only ships segment
// audio as WAV and reads text back.
type WhisperTranscriber struct {
	baseURL  string
	language string
	client   *http.Client
}

// NewWhisperTranscriber creates a transcriber against the server at
// baseURL (e.g. http://127.0.0.1:8000).
func NewWhisperTranscriber(baseURL, language string) *WhisperTranscriber {
	return &WhisperTranscriber{
		baseURL:  baseURL,
		language: language,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Name implements Transcriber.
func (w *WhisperTranscriber) Name() string { return "whisper" }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Prob     float64 `json:"language_probability"`
}

// Transcribe implements Transcriber.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, seg models.Segment) (models.TranscriptionResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if w.language != "" {
		if err := mw.WriteField("language", w.language); err != nil {
			return models.TranscriptionResult{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", fmt.Sprintf("segment-%d.wav", seg.ID))
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	if _, err := fw.Write(audio.EncodeWAV(seg.Samples, seg.SampleRate)); err != nil {
		return models.TranscriptionResult{}, err
	}
	if err := mw.Close(); err != nil {
		return models.TranscriptionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/transcribe", &body)
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return models.TranscriptionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.TranscriptionResult{}, fmt.Errorf("whisper http %d: %s", resp.StatusCode, string(b))
	}

	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return models.TranscriptionResult{}, fmt.Errorf("decode whisper response: %w", err)
	}

	return models.TranscriptionResult{
		SegmentID:  seg.ID,
		Text:       wr.Text,
		Confidence: wr.Prob,
	}, nil
}
