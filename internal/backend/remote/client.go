package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"meeting-scribe/internal/audio"
	"meeting-scribe/internal/backend"
	"meeting-scribe/internal/models"
)

// Client is a remote inference backend addressed as host:port. It
// implements both backend.Transcriber and backend.Embedder over one
// connection; each capability can also be pointed at a different worker
// by constructing two clients.
type Client struct {
	conn      *grpc.ClientConn
	endpoint  string
	language  string
	algorithm string
}

// Dial connects to the worker at endpoint (host:port).
func Dial(endpoint, language, algorithm string) (*Client, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", backend.ErrUnavailable, endpoint, err)
	}
	return &Client{conn: conn, endpoint: endpoint, language: language, algorithm: algorithm}, nil
}

// Name implements backend.Transcriber and backend.Embedder.
func (c *Client) Name() string { return "remote:" + c.endpoint }

// Transcribe implements backend.Transcriber.
func (c *Client) Transcribe(ctx context.Context, seg models.Segment) (models.TranscriptionResult, error) {
	req := &TranscribeRequest{
		SegmentID:  seg.ID,
		DeviceID:   seg.DeviceID,
		SampleRate: seg.SampleRate,
		PCM:        audio.EncodePCM(seg.Samples),
		Language:   c.language,
	}
	resp := new(TranscribeResponse)
	if err := c.conn.Invoke(ctx, MethodTranscribe, req, resp); err != nil {
		return models.TranscriptionResult{}, err
	}
	return models.TranscriptionResult{
		SegmentID:  seg.ID,
		Text:       resp.Text,
		Confidence: resp.Confidence,
	}, nil
}

// Embed implements backend.Embedder.
func (c *Client) Embed(ctx context.Context, seg models.Segment) (models.EmbeddingVector, error) {
	req := &EmbedRequest{
		SegmentID:  seg.ID,
		DeviceID:   seg.DeviceID,
		SampleRate: seg.SampleRate,
		PCM:        audio.EncodePCM(seg.Samples),
		Algorithm:  c.algorithm,
	}
	resp := new(EmbedResponse)
	if err := c.conn.Invoke(ctx, MethodEmbed, req, resp); err != nil {
		return models.EmbeddingVector{}, err
	}
	return models.EmbeddingVector{
		SegmentID: seg.ID,
		DeviceID:  seg.DeviceID,
		Vector:    resp.Vector,
	}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
